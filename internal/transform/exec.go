package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
)

const maxToolOutput = 2048

// runTool は外部コマンドを実行し、失敗を FailureReason に分類します。
// 実行ファイルが見つからない場合は Unconfigured になります。
func runTool(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return nil
	}

	name := filepath.Base(bin)
	switch {
	case ctx.Err() != nil:
		return newError(Timeout, fmt.Sprintf("%s did not finish in time", name), ctx.Err())
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return newError(Unconfigured, fmt.Sprintf("%s is not installed", name), err)
	default:
		return newError(InvalidInput, fmt.Sprintf("%s failed: %s", name, tail(output.String())), err)
	}
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxToolOutput {
		return s
	}
	return "..." + s[len(s)-maxToolOutput:]
}
