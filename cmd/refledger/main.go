// Command refledger operates the referral attribution and commission ledger.
package main

import (
	"os"

	"github.com/roach88/refledger/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
