package convert

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// diagnosticReport はすべてのティアが失敗したときに、人が読めるエラーレポートを書き出す終端ティアです。
// 書き込みに失敗した場合はフォールバックではなく致命的なエラーになります。
type diagnosticReport struct {
	files Files
	now   func() time.Time
}

func (d *diagnosticReport) Name() TierName {
	return TierDiagnosticReport
}

func (d *diagnosticReport) write(ctx context.Context, job Job, attempts []Attempt) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("diagnostic report canceled: %w", err)
	}
	ref, path, err := d.files.NewReport(job.OriginalName)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate diagnostic report: %w", err)
	}
	body := renderReport(job, attempts, d.now())
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		return nil, fmt.Errorf("failed to write diagnostic report: %w", err)
	}
	return &Artifact{
		OutputRef: ref,
		Meta: map[string]any{
			"diagnostic":   true,
			"failedTiers":  len(attempts),
			"lastFailure":  lastMessage(attempts),
			"reportFormat": "text/plain",
		},
	}, nil
}

func renderReport(job Job, attempts []Attempt, at time.Time) string {
	var b strings.Builder
	b.WriteString("変換エラーレポート\n")
	b.WriteString("==================\n\n")
	fmt.Fprintf(&b, "ジョブID: %s\n", job.ID)
	fmt.Fprintf(&b, "種別: %s\n", job.Type)
	fmt.Fprintf(&b, "元ファイル: %s\n", job.OriginalName)
	if job.Options.CompressionLevel != "" {
		fmt.Fprintf(&b, "圧縮レベル: %s\n", job.Options.CompressionLevel)
	}
	fmt.Fprintf(&b, "作成日時: %s\n\n", at.UTC().Format(time.RFC3339))
	b.WriteString("すべての変換方法が失敗したため、変換結果の代わりにこのレポートを出力しました。\n\n")

	for i, a := range attempts {
		fmt.Fprintf(&b, "%d. %s [%s] (%s)\n", i+1, a.Tier, a.Reason, a.Duration.Round(time.Millisecond))
		if a.Message != "" {
			fmt.Fprintf(&b, "   %s\n", a.Message)
		}
	}
	return b.String()
}

func lastMessage(attempts []Attempt) string {
	if len(attempts) == 0 {
		return ""
	}
	return attempts[len(attempts)-1].Message
}
