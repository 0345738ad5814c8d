package services

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pharmagest/license-server/internal/config"
)

// BackupSchedulerService dumps the license database once a day and optionally
// ships the dump to an FTP server. The license store is the single source of
// truth for every issued credential, so losing it means losing the customer
// base.
type BackupSchedulerService struct {
	cfg      *config.Config
	stopChan chan struct{}
}

func NewBackupSchedulerService(cfg *config.Config) *BackupSchedulerService {
	os.MkdirAll(cfg.BackupDir, 0755)
	return &BackupSchedulerService{
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start runs the scheduler loop. Checks every minute whether the configured
// backup hour has arrived.
func (s *BackupSchedulerService) Start() {
	log.Printf("BackupSchedulerService started (daily at %02d:00, dir %s)", s.cfg.BackupHour, s.cfg.BackupDir)

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			log.Println("BackupSchedulerService stopped")
			return
		case <-ticker.C:
			now := time.Now()
			if now.Hour() == s.cfg.BackupHour && now.Minute() == 0 {
				go s.runBackup()
			}
		}
	}
}

// Stop stops the scheduler.
func (s *BackupSchedulerService) Stop() {
	close(s.stopChan)
}

// runBackup executes one dump + upload + retention cycle.
func (s *BackupSchedulerService) runBackup() {
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("pharmagest_licenses_%s.dump", timestamp)
	localPath := filepath.Join(s.cfg.BackupDir, filename)

	if err := s.dumpDatabase(localPath); err != nil {
		log.Printf("BackupScheduler: pg_dump failed: %v", err)
		return
	}

	info, err := os.Stat(localPath)
	if err != nil {
		log.Printf("BackupScheduler: %v", err)
		return
	}
	log.Printf("BackupScheduler: backup completed (%s, %d bytes)", filename, info.Size())

	if s.cfg.FTPEnabled {
		if err := s.uploadToFTP(localPath, filename); err != nil {
			log.Printf("BackupScheduler: FTP upload failed: %v", err)
		}
	}

	if s.cfg.BackupRetention > 0 {
		s.cleanOldBackups()
	}
}

// dumpDatabase runs pg_dump in custom format (compressed binary).
func (s *BackupSchedulerService) dumpDatabase(destPath string) error {
	cmd := exec.Command("pg_dump",
		"-h", s.cfg.DBHost,
		"-p", strconv.Itoa(s.cfg.DBPort),
		"-U", s.cfg.DBUser,
		"-d", s.cfg.DBName,
		"-Fc",
		"-f", destPath,
		"--no-owner",
		"--no-acl",
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", s.cfg.DBPassword))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", err.Error(), string(output))
	}
	return nil
}

// uploadToFTP ships a dump to the configured FTP server.
func (s *BackupSchedulerService) uploadToFTP(localPath, filename string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.FTPHost, s.cfg.FTPPort)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("FTP connection failed: %v", err)
	}
	defer conn.Quit()

	if err := conn.Login(s.cfg.FTPUsername, s.cfg.FTPPassword); err != nil {
		return fmt.Errorf("FTP login failed: %v", err)
	}

	if s.cfg.FTPPath != "" && s.cfg.FTPPath != "/" {
		if err := conn.ChangeDir(s.cfg.FTPPath); err != nil {
			conn.MakeDir(s.cfg.FTPPath)
			if err := conn.ChangeDir(s.cfg.FTPPath); err != nil {
				return fmt.Errorf("FTP directory change failed: %v", err)
			}
		}
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %v", err)
	}
	defer file.Close()

	if err := conn.Stor(filename, file); err != nil {
		return fmt.Errorf("FTP upload failed: %v", err)
	}

	log.Printf("BackupScheduler: uploaded %s to FTP %s", filename, s.cfg.FTPHost)
	return nil
}

// cleanOldBackups removes local dumps older than the retention window.
func (s *BackupSchedulerService) cleanOldBackups() {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.BackupRetention)

	files, err := os.ReadDir(s.cfg.BackupDir)
	if err != nil {
		return
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".dump") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(s.cfg.BackupDir, file.Name()))
			log.Printf("BackupScheduler: deleted old backup %s", file.Name())
		}
	}
}
