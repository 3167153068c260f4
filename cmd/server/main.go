package main

import (
	"ledger-holder/internal/app/server"
	"ledger-holder/internal/config"
)

func main() {
	server.Run(config.Load())
}
