package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"docdl/config"
	"docdl/storage"
	"docdl/store"
)

const backupPrefix = "backups/"

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	app := &cli.App{
		Name:  "backup",
		Usage: "Back up or restore the docdl store via S3",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Dump the store, upload it and rotate old backups",
				Action: func(c *cli.Context) error {
					return createCommand(c.Context, logging)
				},
			},
			{
				Name:  "restore",
				Usage: "Download a backup and load it into the store (server must be stopped)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "key",
						Usage: "Object key of the backup, defaults to the newest one",
					},
				},
				Action: func(c *cli.Context) error {
					return restoreCommand(c.Context, c.String("key"), logging)
				},
			},
		},
		DefaultCommand: "create",
	}
	if err := app.Run(os.Args); err != nil {
		logging.Fatal("Backup fehlgeschlagen", zap.Error(err))
	}
}

// openBackups lädt die Konfiguration und erstellt die S3-Ablage.
func openBackups(ctx context.Context, logging *zap.Logger) (*config.Config, *storage.Backups, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("Fehler beim Laden der Konfiguration: %w", err)
	}
	if !cfg.S3Enabled() {
		return nil, nil, fmt.Errorf("Backup benötigt S3_BUCKET")
	}
	s3Client, err := storage.NewS3Client(ctx, storage.S3Config{
		URL:    cfg.S3URL,
		Region: cfg.S3Region,
		Key:    cfg.S3Key,
		Secret: cfg.S3Secret,
		Bucket: cfg.S3Bucket,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("Fehler beim Erstellen des S3-Clients: %w", err)
	}
	return cfg, storage.NewBackups(s3Client, cfg.S3Bucket, backupPrefix, cfg.KeepBackups, logging), nil
}

func createCommand(ctx context.Context, logging *zap.Logger) error {
	logging.Info("Starte Backup-Prozess...")
	cfg, backups, err := openBackups(ctx, logging)
	if err != nil {
		return err
	}

	// 1. Dump des konfigurierten Backends erstellen
	dumpData, ext, err := createDump(cfg, logging)
	if err != nil {
		return fmt.Errorf("Fehler beim Erstellen des Dumps: %w", err)
	}

	// 2. Backup nach S3 hochladen
	fileName := fmt.Sprintf("backup-%s.%s.gz", time.Now().UTC().Format("2006-01-02T15-04-05Z"), ext)
	key, err := backups.Upload(ctx, fileName, dumpData)
	if err != nil {
		return fmt.Errorf("Fehler beim Hochladen nach S3: %w", err)
	}
	logging.Info("Backup hochgeladen", zap.String("bucket", cfg.S3Bucket), zap.String("key", key))

	// 3. Alte Backups rotieren
	if _, err := backups.Rotate(ctx); err != nil {
		return fmt.Errorf("Fehler bei der Rotation alter Backups: %w", err)
	}

	logging.Info("Backup-Prozess erfolgreich abgeschlossen.")
	return nil
}

func restoreCommand(ctx context.Context, key string, logging *zap.Logger) error {
	cfg, backups, err := openBackups(ctx, logging)
	if err != nil {
		return err
	}
	if key == "" {
		if key, err = backups.Latest(ctx); err != nil {
			return err
		}
	}
	if err := checkBackend(cfg, key); err != nil {
		return err
	}
	logging.Info("Starte Wiederherstellung", zap.String("key", key), zap.String("backend", cfg.StoreBackend))

	body, err := backups.Download(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return fmt.Errorf("Backup %s ist kein gzip: %w", key, err)
	}
	defer gz.Close()

	if cfg.StoreBackend == config.BackendBadger {
		err = restoreBadger(cfg.BadgerDir, gz, logging)
	} else {
		err = restorePostgres(cfg, gz)
	}
	if err != nil {
		return fmt.Errorf("Fehler bei der Wiederherstellung: %w", err)
	}
	logging.Info("Wiederherstellung abgeschlossen", zap.String("key", key))
	return nil
}

// checkBackend verhindert, dass ein Dump in das falsche Backend geladen wird.
func checkBackend(cfg *config.Config, key string) error {
	want := ".sql.gz"
	if cfg.StoreBackend == config.BackendBadger {
		want = ".badger.gz"
	}
	if !strings.HasSuffix(key, want) {
		return fmt.Errorf("backup %s does not match STORE_BACKEND=%s", key, cfg.StoreBackend)
	}
	return nil
}

// createDump liefert den gzip-komprimierten Dump und die Dateiendung.
func createDump(cfg *config.Config, logging *zap.Logger) ([]byte, string, error) {
	if cfg.StoreBackend == config.BackendBadger {
		data, err := dumpBadger(cfg.BadgerDir, logging)
		return data, "badger", err
	}
	data, err := dumpPostgres(cfg)
	return data, "sql", err
}

// dumpBadger öffnet die Datenbank exklusiv, der Server darf nicht laufen.
func dumpBadger(dir string, logging *zap.Logger) ([]byte, error) {
	bs, err := store.OpenBadgerStore(dir, logging)
	if err != nil {
		return nil, err
	}
	defer bs.Close()

	return gzipFrom(func(w io.Writer) error { return bs.Backup(w) })
}

func restoreBadger(dir string, r io.Reader, logging *zap.Logger) error {
	bs, err := store.OpenBadgerStore(dir, logging)
	if err != nil {
		return err
	}
	defer bs.Close()
	return bs.Restore(r)
}

func postgresCommand(cfg *config.Config, name string) *exec.Cmd {
	cmd := exec.Command(name,
		"-h", cfg.DBHost,
		"-p", fmt.Sprint(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // Passwort wird über PGPASSWORD bereitgestellt
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", cfg.DBPassword))
	return cmd
}

func dumpPostgres(cfg *config.Config) ([]byte, error) {
	cmd := postgresCommand(cfg, "pg_dump")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	data, err := gzipFrom(func(w io.Writer) error {
		_, err := io.Copy(w, stdout)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

func restorePostgres(cfg *config.Config, r io.Reader) error {
	cmd := postgresCommand(cfg, "psql")
	cmd.Args = append(cmd.Args, "-v", "ON_ERROR_STOP=1")
	cmd.Stdin = r
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("psql: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func gzipFrom(write func(w io.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if err := write(gzipWriter); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
