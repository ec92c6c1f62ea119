package main

import (
    "log"

    "github.com/spf13/cobra"

    nrcli "github.com/numanode/go-nr/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "nrctl",
        Short:         "go-nr engine CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all engine commands from pkg/cli for reuse in services
    nrcli.AddAll(root)
    return root
}
