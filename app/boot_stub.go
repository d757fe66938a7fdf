//go:build !tinygo || !bootdebug

package app

import "tern/hal"

func bootDiagStart(h hal.HAL) { _ = h }

func bootScreen(h hal.HAL, msg string) {
	_ = h
	_ = msg
}
