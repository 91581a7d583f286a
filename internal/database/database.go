package database

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/waregrid/picksync/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// The embedded database lives with the rest of the device state under
// .picksync, so wiping one directory resets the whole agent.
const (
	embeddedDataDir = ".picksync/db"
	embeddedPort    = 5439
)

// DB wraps gorm.DB and owns the embedded process when one is running.
type DB struct {
	*gorm.DB
	embedded *embeddedpostgres.EmbeddedPostgres
}

// reapStalePostmaster removes a postmaster.pid left behind by a crash or a
// killed agent, stopping the orphaned process if it is still alive. Handhelds
// lose power mid-run often enough that this is a normal startup step.
func reapStalePostmaster(dataDir string) {
	pidFile := filepath.Join(dataDir, "postmaster.pid")

	data, err := os.ReadFile(pidFile)
	if err != nil {
		return // no pid file, clean start
	}

	firstLine, _, _ := strings.Cut(string(data), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(firstLine))
	if err != nil {
		log.Printf("⚠️  Unreadable postmaster.pid, removing: %v", err)
		os.Remove(pidFile)
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(pidFile)
		return
	}

	// FindProcess always succeeds on Unix; signal 0 tells us whether the
	// process actually exists.
	if process.Signal(syscall.Signal(0)) != nil {
		log.Printf("🧹 Removing stale postmaster.pid (PID %d gone)", pid)
		os.Remove(pidFile)
		return
	}

	log.Printf("⚠️  Orphaned embedded PostgreSQL (PID %d), stopping it...", pid)
	_ = process.Signal(syscall.SIGTERM)
	for i := 0; i < 10; i++ {
		time.Sleep(500 * time.Millisecond)
		if process.Signal(syscall.Signal(0)) != nil {
			log.Println("✅ Orphaned process stopped")
			os.Remove(pidFile)
			return
		}
	}

	log.Println("⚠️  SIGTERM ignored, sending SIGKILL...")
	process.Kill()
	time.Sleep(500 * time.Millisecond)
	os.Remove(pidFile)
}

// waitForPortRelease polls until nothing listens on the port or the attempts
// run out.
func waitForPortRelease(port, attempts int) bool {
	for i := 0; i < attempts; i++ {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
		if err != nil {
			return true
		}
		conn.Close()
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

// Connect opens the task database. With localhost and no password the agent
// runs its own embedded PostgreSQL process under the device state directory;
// otherwise it connects to the configured external server.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	var embedded *embeddedpostgres.EmbeddedPostgres

	isEmbedded := cfg.Host == "localhost" && cfg.Password == ""

	password := cfg.Password
	if isEmbedded {
		log.Println("📦 Mode: [Embedded PostgreSQL] - starting device-local database...")

		dataDir := embeddedDataDir
		if override := os.Getenv("DB_DATA_PATH"); override != "" {
			dataDir = override
		}

		reapStalePostmaster(dataDir)

		if !waitForPortRelease(embeddedPort, 8) {
			return nil, fmt.Errorf("port %d is held by another process", embeddedPort)
		}

		embedded = embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
			DataPath(dataDir).
			Port(uint32(embeddedPort)).
			Database(cfg.Database).
			Username(cfg.Username).
			Password("postgres"))

		if err := embedded.Start(); err != nil {
			return nil, fmt.Errorf("failed to start embedded database: %w", err)
		}

		cfg.Port = strconv.Itoa(embeddedPort)
		password = "postgres"
		log.Printf("✅ Embedded PostgreSQL up on port %d (data: %s)", embeddedPort, dataDir)
	} else {
		log.Printf("🌐 Mode: [External PostgreSQL] - connecting to %s:%s", cfg.Host, cfg.Port)
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, password, cfg.Database,
	)

	// Quiet by default: on a handheld the sync engine's own lines are the
	// signal, SQL tracing is opt-in.
	logLevel := logger.Silent
	if cfg.Verbose {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// A single agent process is the only client: a couple of idle
	// connections cover the HTTP handlers plus the sync workers.
	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetMaxOpenConns(8)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	log.Println("✅ Task database ready")

	return &DB{
		DB:       db,
		embedded: embedded,
	}, nil
}

// Close shuts down the connection pool and, when embedded, the database
// process itself.
func (db *DB) Close() error {
	if db.embedded != nil {
		log.Println("🛑 Stopping embedded PostgreSQL...")
		_ = db.embedded.Stop()
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate triggers GORM schema synchronization
func (db *DB) AutoMigrate(models ...interface{}) error {
	return db.DB.AutoMigrate(models...)
}
