package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Mr-SGXXX/pyerm/config"
	"github.com/Mr-SGXXX/pyerm/dao"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var (
	ErrBackupClientFactoryNil    = errors.New("backup client factory is nil")
	ErrBackupHostRequired        = errors.New("backup host is required")
	ErrBackupUserRequired        = errors.New("backup user is required")
	ErrBackupPrivateKeyRequired  = errors.New("backup private key path is required")
	ErrBackupRemoteDirRequired   = errors.New("backup remote dir is required")
	ErrBackupFileNameRequired    = errors.New("backup file name is required")
	ErrRemoteBackupNotFound      = errors.New("remote backup not found")
	ErrRemoteBackupAlreadyExists = errors.New("remote backup already exists")
	ErrLocalRestoreTargetExists  = errors.New("local restore target already exists")
)

const defaultBackupTimeout = 15 * time.Second

// BackupTarget 是 SFTP 备份服务器的连接信息。
type BackupTarget struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	RemoteDir      string
	Timeout        time.Duration
}

// BackupResult 描述一次上传或恢复。
type BackupResult struct {
	Host       string        `json:"host"`
	Direction  string        `json:"direction"`
	SourcePath string        `json:"source_path"`
	TargetPath string        `json:"target_path"`
	Bytes      int64         `json:"bytes"`
	Cost       time.Duration `json:"cost"`
}

type remoteFileClient interface {
	UploadFile(localPath, remotePath string) (int64, error)
	DownloadFile(remotePath, localPath string) (int64, error)
	FileExists(remotePath string) (bool, error)
	Close() error
}

type remoteFileClientFactory interface {
	New(target BackupTarget) (remoteFileClient, error)
}

// BackupService 把数据库快照上传到 SFTP 服务器，或从服务器恢复。
type BackupService struct {
	target        BackupTarget
	clientFactory remoteFileClientFactory
	now           func() time.Time
}

// NewBackupService 按配置创建备份服务。
func NewBackupService(cfg config.BackupConfig) *BackupService {
	return &BackupService{
		target: BackupTarget{
			Host:           strings.TrimSpace(cfg.Host),
			Port:           cfg.Port,
			User:           strings.TrimSpace(cfg.User),
			PrivateKeyPath: strings.TrimSpace(cfg.PrivateKeyPath),
			RemoteDir:      strings.TrimSpace(cfg.RemoteDir),
			Timeout:        defaultBackupTimeout,
		},
		clientFactory: &sshSFTPClientFactory{},
		now:           time.Now,
	}
}

// BackupName 返回上传时使用的远端文件名：<库名>_<时间戳>.db。
func (s *BackupService) BackupName(dbPath string) string {
	base := strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))
	return fmt.Sprintf("%s_%s.db", base, s.now().Format("20060102_150405"))
}

// Upload 先用 VACUUM INTO 生成一致的快照，再把快照上传到 RemoteDir。远端同名文件存在时拒绝覆盖。
func (s *BackupService) Upload(ctx context.Context, database *dao.Database) (BackupResult, error) {
	logger := serviceLogger().With("service", "BackupService", "method", "Upload")
	start := time.Now()
	if database == nil {
		return BackupResult{}, dao.ErrDBNotInitialized
	}
	target, err := normalizeBackupTarget(s.target)
	if err != nil {
		logger.Warn("upload failed: invalid target", "error", err)
		return BackupResult{}, err
	}
	if s.clientFactory == nil {
		return BackupResult{}, ErrBackupClientFactoryNil
	}

	name := s.BackupName(database.Path)
	snapshotDir, err := os.MkdirTemp("", "pyerm-backup-")
	if err != nil {
		return BackupResult{}, fmt.Errorf("create snapshot dir failed: %w", err)
	}
	defer os.RemoveAll(snapshotDir)
	snapshot := filepath.Join(snapshotDir, name)
	if err := database.Snapshot(ctx, snapshot); err != nil {
		logger.Error("upload failed: snapshot", "db", database.Path, "error", err)
		return BackupResult{}, err
	}

	remotePath := path.Join(target.RemoteDir, name)
	logger.Info("upload begin", "host", target.Host, "db", database.Path, "remote_path", remotePath)

	client, err := s.clientFactory.New(target)
	if err != nil {
		logger.Error("upload failed: create sftp client failed", "host", target.Host, "error", err)
		return BackupResult{}, err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Error("upload close client failed", "host", target.Host, "error", closeErr)
		}
	}()

	exists, err := client.FileExists(remotePath)
	if err != nil {
		return BackupResult{}, err
	}
	if exists {
		logger.Warn("upload failed: remote backup already exists", "remote_path", remotePath)
		return BackupResult{}, ErrRemoteBackupAlreadyExists
	}

	written, err := client.UploadFile(snapshot, remotePath)
	if err != nil {
		logger.Error("upload failed", "host", target.Host, "remote_path", remotePath, "error", err)
		return BackupResult{}, err
	}

	result := BackupResult{
		Host:       target.Host,
		Direction:  "upload",
		SourcePath: filepath.ToSlash(database.Path),
		TargetPath: remotePath,
		Bytes:      written,
		Cost:       time.Since(start),
	}
	logger.Info("upload success", "host", target.Host, "bytes", written, "cost_ms", result.Cost.Milliseconds(),
		"target_path", remotePath)
	return result, nil
}

// Restore 把 RemoteDir 下名为 name 的备份下载到 localPath，localPath 已存在时拒绝覆盖。
func (s *BackupService) Restore(ctx context.Context, name, localPath string) (BackupResult, error) {
	logger := serviceLogger().With("service", "BackupService", "method", "Restore")
	start := time.Now()
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return BackupResult{}, ErrBackupFileNameRequired
	}
	target, err := normalizeBackupTarget(s.target)
	if err != nil {
		return BackupResult{}, err
	}
	if s.clientFactory == nil {
		return BackupResult{}, ErrBackupClientFactoryNil
	}
	localPath = filepath.Clean(strings.TrimSpace(localPath))
	if _, err := os.Stat(localPath); err == nil {
		return BackupResult{}, ErrLocalRestoreTargetExists
	}
	if err := ctx.Err(); err != nil {
		return BackupResult{}, err
	}

	client, err := s.clientFactory.New(target)
	if err != nil {
		logger.Error("restore failed: create sftp client failed", "host", target.Host, "error", err)
		return BackupResult{}, err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Error("restore close client failed", "host", target.Host, "error", closeErr)
		}
	}()

	remotePath := path.Join(target.RemoteDir, name)
	exists, err := client.FileExists(remotePath)
	if err != nil {
		return BackupResult{}, err
	}
	if !exists {
		logger.Warn("restore failed: remote backup not found", "remote_path", remotePath)
		return BackupResult{}, ErrRemoteBackupNotFound
	}
	written, err := client.DownloadFile(remotePath, localPath)
	if err != nil {
		logger.Error("restore failed", "remote_path", remotePath, "error", err)
		return BackupResult{}, err
	}

	result := BackupResult{
		Host:       target.Host,
		Direction:  "download",
		SourcePath: remotePath,
		TargetPath: filepath.ToSlash(localPath),
		Bytes:      written,
		Cost:       time.Since(start),
	}
	logger.Info("restore success", "host", target.Host, "bytes", written, "target_path", result.TargetPath)
	return result, nil
}

func normalizeBackupTarget(target BackupTarget) (BackupTarget, error) {
	if target.Host == "" {
		return BackupTarget{}, ErrBackupHostRequired
	}
	if target.User == "" {
		return BackupTarget{}, ErrBackupUserRequired
	}
	if target.PrivateKeyPath == "" {
		return BackupTarget{}, ErrBackupPrivateKeyRequired
	}
	if target.RemoteDir == "" {
		return BackupTarget{}, ErrBackupRemoteDirRequired
	}
	if target.Port <= 0 {
		target.Port = 22
	}
	if target.Timeout <= 0 {
		target.Timeout = defaultBackupTimeout
	}
	target.RemoteDir = path.Clean(strings.ReplaceAll(target.RemoteDir, `\`, "/"))
	return target, nil
}

type sshSFTPClientFactory struct{}

func (f *sshSFTPClientFactory) New(target BackupTarget) (remoteFileClient, error) {
	return newSSHSFTPClient(target)
}

type sshSFTPClient struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

func newSSHSFTPClient(target BackupTarget) (*sshSFTPClient, error) {
	keyBytes, err := os.ReadFile(target.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key failed: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key failed: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         target.Timeout,
	}
	address := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	sshClient, err := ssh.Dial("tcp", address, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("dial ssh failed: %w", err)
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("create sftp client failed: %w", err)
	}
	return &sshSFTPClient{sshClient: sshClient, sftpClient: sftpClient}, nil
}

func (c *sshSFTPClient) UploadFile(localPath, remotePath string) (int64, error) {
	src, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return 0, fmt.Errorf("open local file failed: %w", err)
	}
	defer src.Close()

	if err := c.sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return 0, fmt.Errorf("create remote directory failed: %w", err)
	}
	dst, err := c.sftpClient.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("create remote file failed: %w", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, src)
	if err != nil {
		return 0, fmt.Errorf("write remote file failed: %w", err)
	}
	return written, nil
}

func (c *sshSFTPClient) DownloadFile(remotePath, localPath string) (int64, error) {
	src, err := c.sftpClient.Open(remotePath)
	if err != nil {
		if isNotExistError(err) {
			return 0, ErrRemoteBackupNotFound
		}
		return 0, fmt.Errorf("open remote file failed: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("create local directory failed: %w", err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create local file failed: %w", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, src)
	if err != nil {
		return 0, fmt.Errorf("write local file failed: %w", err)
	}
	return written, nil
}

func (c *sshSFTPClient) FileExists(remotePath string) (bool, error) {
	if _, err := c.sftpClient.Stat(remotePath); err != nil {
		if isNotExistError(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat remote file failed: %w", err)
	}
	return true, nil
}

func (c *sshSFTPClient) Close() error {
	var firstErr error
	if c.sftpClient != nil {
		if err := c.sftpClient.Close(); err != nil {
			firstErr = err
		}
	}
	if c.sshClient != nil {
		if err := c.sshClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func isNotExistError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "not exist") || strings.Contains(message, "no such file")
}
