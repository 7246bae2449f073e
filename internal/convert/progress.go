package convert

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

// tierPercent はチェーン内の位置を 5〜95% の範囲に割り当てます。
func tierPercent(index, total int) int {
	if total <= 0 {
		return 5
	}
	return 5 + index*90/total
}
