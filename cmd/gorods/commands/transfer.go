package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/gorods/internal/bytesize"
	"github.com/marmos91/gorods/internal/cli/output"
	"github.com/marmos91/gorods/internal/cli/prompt"
	"github.com/marmos91/gorods/internal/cli/timeutil"
	"github.com/marmos91/gorods/pkg/account"
	"github.com/marmos91/gorods/pkg/session"
	"github.com/marmos91/gorods/pkg/transfer"
)

// addTransferFlags registers the flags shared by put and get.
func addTransferFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("force", "f", false, "Overwrite the destination without asking")
	cmd.Flags().IntP("threads", "N", 0, "Maximum parallel streams (0 uses the configured value)")
	cmd.Flags().Bool("no-parallel", false, "Transfer over a single stream")
	cmd.Flags().Bool("parts", false, "List the byte range moved by each stream")
}

func transferOptions(cmd *cobra.Command, rt *clientRuntime) transfer.Options {
	opts := rt.engine.DefaultOptions()
	if n, _ := cmd.Flags().GetInt("threads"); n > 0 {
		opts.MaxThreads = n
	}
	if noParallel, _ := cmd.Flags().GetBool("no-parallel"); noParallel {
		opts.Mode = session.ModeNoParallel
	}
	opts.Overwrite, _ = cmd.Flags().GetBool("force")
	return opts
}

// confirmOverwrite asks before replacing dest when stdin is a terminal.
// Without a terminal the transfer runs and the destination check fails it.
func confirmOverwrite(opts *transfer.Options, dest string) error {
	if opts.Overwrite || !isTerminal(os.Stdin) {
		return nil
	}
	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("%s exists. Overwrite", dest), false)
	if err != nil {
		if prompt.IsAborted(err) {
			return fmt.Errorf("aborted")
		}
		return err
	}
	if !ok {
		return fmt.Errorf("aborted")
	}
	opts.Overwrite = true
	return nil
}

// runTransfer wires interrupt handling to the transfer's Control and
// releases the runtime afterwards.
func runTransfer(cmd *cobra.Command, fn func(ctx context.Context, rt *clientRuntime, acct account.Account, scope *session.Scope) (*transfer.Result, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	result, err := fn(ctx, rt, acct, scope)
	if err != nil {
		return err
	}
	return printResult(cmd, result)
}

// cancelOnDone cancels ctrl when ctx ends. The returned func detaches it.
func cancelOnDone(ctx context.Context, ctrl *transfer.Control) func() bool {
	return context.AfterFunc(ctx, ctrl.Cancel)
}

func progressListener(cmd *cobra.Command) *output.Progress {
	quiet, _ := cmd.Flags().GetBool("quiet")
	return output.NewProgress(cmd.ErrOrStderr(), quiet)
}

type resultView struct {
	TransferID  string `json:"transfer_id" yaml:"transfer_id"`
	Direction   string `json:"direction" yaml:"direction"`
	Local       string `json:"local" yaml:"local"`
	Remote      string `json:"remote" yaml:"remote"`
	Bytes       int64  `json:"bytes" yaml:"bytes"`
	Streams     int    `json:"streams" yaml:"streams"`
	Duration    string `json:"duration" yaml:"duration"`
	Rate        string `json:"rate" yaml:"rate"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
}

func (v resultView) Headers() []string { return []string{"FIELD", "VALUE"} }

func (v resultView) Rows() [][]string {
	rows := [][]string{
		{"Transfer", v.TransferID},
		{"Direction", v.Direction},
		{"Local", v.Local},
		{"Remote", v.Remote},
		{"Size", fmt.Sprintf("%s (%s bytes)", bytesize.ByteSize(v.Bytes), strconv.FormatInt(v.Bytes, 10))},
		{"Streams", strconv.Itoa(v.Streams)},
		{"Duration", v.Duration},
		{"Rate", v.Rate},
	}
	if v.ContentType != "" {
		rows = append(rows, []string{"Content type", v.ContentType})
	}
	return rows
}

func printResult(cmd *cobra.Command, r *transfer.Result) error {
	p, err := printer(cmd)
	if err != nil {
		return err
	}
	if err := p.Print(resultView{
		TransferID:  r.TransferID,
		Direction:   r.Direction.String(),
		Local:       r.LocalPath,
		Remote:      r.RemotePath,
		Bytes:       r.Bytes,
		Streams:     r.Streams,
		Duration:    timeutil.FormatDuration(r.Duration),
		Rate:        timeutil.FormatRate(r.Bytes, r.Duration),
		ContentType: r.ContentType,
	}); err != nil {
		return err
	}

	if showParts, _ := cmd.Flags().GetBool("parts"); !showParts || p.Format() != output.FormatTable {
		return nil
	}
	table := output.NewTableData("PART", "OFFSET", "LENGTH", "ETAG")
	for _, part := range r.Parts {
		table.AddRow(strconv.Itoa(part.Index), strconv.FormatInt(part.Offset, 10),
			strconv.FormatInt(part.Length, 10), part.ETag)
	}
	p.Printf("\n")
	return p.Print(table)
}
