// Command gwsup supervises go-cqhttp gateways, one per account.
package main

import (
	"os"

	"github.com/Dicklesworthstone/gateway_supervisor/cmd/gwsup/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
