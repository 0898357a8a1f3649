package main

import (
	"fmt"
	"os"

	"github.com/webitel/change-relay/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
