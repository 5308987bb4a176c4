package main

import (
	"github.com/manifest-network/aexplorer/cmd/aexplorer"
)

func main() {
	aexplorer.Execute()
}
