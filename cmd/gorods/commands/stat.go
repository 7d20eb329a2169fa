package commands

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/gorods/internal/bytesize"
	"github.com/marmos91/gorods/internal/cli/output"
	"github.com/marmos91/gorods/internal/cli/timeutil"
)

var statCmd = &cobra.Command{
	Use:   "stat <remote-path>",
	Short: "Show data object information",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

type objectView struct {
	Path        string `json:"path" yaml:"path"`
	Size        int64  `json:"size" yaml:"size"`
	Modified    string `json:"modified" yaml:"modified"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Resource    string `json:"resource,omitempty" yaml:"resource,omitempty"`
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.close(context.Background()) }()

	acct, err := resolveAccount(cmd, rt.cfg)
	if err != nil {
		return err
	}

	scope := rt.manager.NewScope()
	defer func() { _ = scope.ReleaseAll() }()

	conn, err := scope.Acquire(ctx, acct)
	if err != nil {
		return err
	}
	info, err := conn.Stat(ctx, remotePath(acct, args[0]))
	if err != nil {
		return err
	}

	p, err := printer(cmd)
	if err != nil {
		return err
	}
	if p.Format() == output.FormatTable {
		return output.PrintKeyValues(p.Writer(), [][2]string{
			{"Path", info.Path},
			{"Size", bytesize.ByteSize(info.Size).String() + " (" + strconv.FormatInt(info.Size, 10) + " bytes)"},
			{"Modified", timeutil.FormatTime(info.ModTime)},
			{"Content type", info.ContentType},
			{"Resource", info.Resource},
		})
	}
	return p.Print(objectView{
		Path:        info.Path,
		Size:        info.Size,
		Modified:    timeutil.FormatTime(info.ModTime),
		ContentType: info.ContentType,
		Resource:    info.Resource,
	})
}
