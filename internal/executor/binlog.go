package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/kebairia/mariabak/internal/config"
	"github.com/kebairia/mariabak/internal/errs"
)

// Binlog rotates the server's binary log and copies every closed log
// file, zstd-compressed, into a binlog_<timestamp> set. The set never
// joins a chain and never touches the checkpoint.
func (m *MariaBackup) Binlog(ctx context.Context, target string) (string, error) {
	if m.Source == nil {
		return "", fmt.Errorf("%w: no binlog source configured", errs.ErrExecutionLog)
	}

	if err := m.Source.FlushBinaryLogs(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrExecutionLog, err)
	}
	logs, err := m.Source.BinaryLogs(ctx)
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "", fmt.Errorf("%w: server reported no binary logs", errs.ErrNoBinlogs)
	}
	// The newest entry is the active log the flush just opened; only
	// closed files are copied.
	closed := logs[:len(logs)-1]
	if len(closed) == 0 {
		return "", fmt.Errorf("%w: only the active binary log exists", errs.ErrNoBinlogs)
	}

	outDir := filepath.Join(m.TargetDir(target),
		"binlog_"+m.Now().Format(config.TimestampFormat))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir %q: %v", errs.ErrExecutionLog, outDir, err)
	}

	m.Logger.Info("binlog capture started", "target", target, "files", len(closed), "path", outDir)
	for _, entry := range closed {
		src := filepath.Join(m.DataDir, entry.Name)
		dst := filepath.Join(outDir, entry.Name+".zst")
		if err := compressFile(src, dst); err != nil {
			return "", fmt.Errorf("%w: copy %q: %v", errs.ErrExecutionLog, entry.Name, err)
		}
	}
	m.Logger.Info("binlog capture completed", "target", target, "path", outDir)
	return outDir, nil
}

// compressFile zstd-compresses src into dst.
func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %q: %w", dst, err)
	}
	defer out.Close()

	writer, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := io.Copy(writer, in); err != nil {
		writer.Close()
		return fmt.Errorf("compress %q: %w", src, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("flush zstd stream: %w", err)
	}
	return out.Sync()
}
