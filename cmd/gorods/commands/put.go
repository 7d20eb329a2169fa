package commands

import (
	"context"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marmos91/gorods/pkg/account"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/session"
	"github.com/marmos91/gorods/pkg/transfer"
)

var putCmd = &cobra.Command{
	Use:   "put <local-file> [remote-path]",
	Short: "Upload a file to the zone",
	Long: `Upload a local file to a data object.

A relative remote path is resolved against the account's home collection.
When the remote path is omitted or ends with '/', the local file name is
appended. Large files are split into parallel streams.

Examples:
  # Upload into the home collection
  gorods put results.csv

  # Upload to an absolute path with 8 streams, replacing any existing object
  gorods put results.csv /tempZone/projects/run1/results.csv -N 8 --force`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPut,
}

func init() {
	addTransferFlags(putCmd)
	putCmd.Flags().String("content-type", "", "Content type to record (detected when empty)")
	putCmd.Flags().String("dest-resource", "", "Storage resource for the new object")
}

func runPut(cmd *cobra.Command, args []string) error {
	local := args[0]
	remoteArg := ""
	if len(args) > 1 {
		remoteArg = args[1]
	}

	return runTransfer(cmd, func(ctx context.Context, rt *clientRuntime, acct account.Account, scope *session.Scope) (*transfer.Result, error) {
		remote := putTarget(acct, local, remoteArg)

		opts := transferOptions(cmd, rt)
		opts.ContentType, _ = cmd.Flags().GetString("content-type")
		if r, _ := cmd.Flags().GetString("dest-resource"); r != "" {
			opts.Resource = r
		}

		if !opts.Overwrite {
			conn, err := scope.Acquire(ctx, acct)
			if err != nil {
				return nil, err
			}
			if _, err := conn.Stat(ctx, remote); err == nil {
				if err := confirmOverwrite(&opts, remote); err != nil {
					return nil, err
				}
			} else if !rodserrors.IsNotFoundError(err) {
				return nil, err
			}
		}

		opts.Control = transfer.NewControl()
		defer cancelOnDone(ctx, opts.Control)()

		return rt.engine.Put(ctx, scope, acct, local, remote, opts, progressListener(cmd))
	})
}

// putTarget resolves the remote object path for local.
func putTarget(acct account.Account, local, remote string) string {
	name := filepath.Base(local)
	if remote == "" {
		return remotePath(acct, name)
	}
	if remote[len(remote)-1] == '/' {
		return path.Join(remotePath(acct, remote), name)
	}
	return remotePath(acct, remote)
}
