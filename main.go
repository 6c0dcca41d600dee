package main

import (
	"embed"

	"github.com/KingstonPolyAC/PolyField/cmd"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	cmd.Execute(assets)
}
