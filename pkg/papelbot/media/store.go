// store.go implementa o sink de armazenamento em filesystem para os
// arquivos aceitos pelo intake, mais a limpeza periódica de uploads antigos.
package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StoreConfig configura o FileSystemSink.
type StoreConfig struct {
	// UploadDir é o diretório de destino dos arquivos aceitos.
	UploadDir string `yaml:"upload_dir" envconfig:"UPLOAD_DIR"`

	// Retention define por quanto tempo uploads são mantidos antes da
	// limpeza periódica. Zero desabilita a limpeza.
	Retention time.Duration `yaml:"retention" envconfig:"UPLOAD_RETENTION"`
}

// DefaultStoreConfig retorna os defaults de armazenamento.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		UploadDir: "./uploads",
		Retention: 30 * 24 * time.Hour,
	}
}

// FileSystemSink grava arquivos aceitos em disco.
type FileSystemSink struct {
	cfg    StoreConfig
	logger *slog.Logger
}

// NewFileSystemSink cria o sink com a configuração fornecida.
func NewFileSystemSink(cfg StoreConfig, logger *slog.Logger) *FileSystemSink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./uploads"
	}
	return &FileSystemSink{
		cfg:    cfg,
		logger: logger.With("component", "media-store"),
	}
}

// EnsureDir cria o diretório de uploads se não existir.
func (s *FileSystemSink) EnsureDir() error {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o700); err != nil {
		return fmt.Errorf("creating upload dir %s: %w", s.cfg.UploadDir, err)
	}
	return nil
}

// Store grava data sob name dentro do diretório de uploads. O arquivo é
// aberto com O_EXCL: um nome já existente é ErrNameCollision, nunca
// sobrescrita silenciosa.
func (s *FileSystemSink) Store(name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data provided")
	}
	if err := s.EnsureDir(); err != nil {
		return "", err
	}

	path := filepath.Join(s.cfg.UploadDir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNameCollision, path)
		}
		return "", fmt.Errorf("opening %s: %w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", path, err)
	}

	s.logger.Debug("arquivo gravado", "path", path, "size", len(data))
	return path, nil
}

// CleanupStale remove uploads mais antigos que a retenção configurada.
// Retorna quantos arquivos foram removidos. Pensado para rodar como job
// periódico (@daily) no serve.
func (s *FileSystemSink) CleanupStale(now time.Time) (int, error) {
	if s.cfg.Retention <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(s.cfg.UploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading upload dir: %w", err)
	}

	cutoff := now.Add(-s.cfg.Retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.cfg.UploadDir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("falha ao remover upload antigo", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("uploads antigos removidos", "count", removed)
	}
	return removed, nil
}
