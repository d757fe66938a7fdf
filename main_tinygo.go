//go:build tinygo

package main

import (
	"tern/app"
	"tern/hal"
)

func main() {
	app.Run(hal.New())
}
