package commands

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marmos91/gorods/pkg/account"
	"github.com/marmos91/gorods/pkg/session"
	"github.com/marmos91/gorods/pkg/transfer"
)

var getCmd = &cobra.Command{
	Use:   "get <remote-path> [local-path]",
	Short: "Download a data object",
	Long: `Download a data object to the local filesystem.

A relative remote path is resolved against the account's home collection.
When the local path is omitted the object is written to the current
directory; a local directory receives the object's name. An existing local
file is replaced only with --force or after confirmation.

Examples:
  gorods get results.csv
  gorods get /tempZone/projects/run1/results.csv ./data/ -N 4`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runGet,
}

func init() {
	addTransferFlags(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	localArg := ""
	if len(args) > 1 {
		localArg = args[1]
	}

	return runTransfer(cmd, func(ctx context.Context, rt *clientRuntime, acct account.Account, scope *session.Scope) (*transfer.Result, error) {
		remote := remotePath(acct, args[0])
		local := getTarget(remote, localArg)

		opts := transferOptions(cmd, rt)
		if _, err := os.Stat(local); err == nil {
			if err := confirmOverwrite(&opts, local); err != nil {
				return nil, err
			}
		}

		opts.Control = transfer.NewControl()
		defer cancelOnDone(ctx, opts.Control)()

		return rt.engine.Get(ctx, scope, acct, remote, local, opts, progressListener(cmd))
	})
}

// getTarget resolves the local file path for remote.
func getTarget(remote, local string) string {
	name := path.Base(remote)
	if local == "" {
		return name
	}
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return filepath.Join(local, name)
	}
	return local
}
