package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mr-SGXXX/pyerm/config"
	"github.com/Mr-SGXXX/pyerm/dao"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemoteFileClientFactory struct {
	client      *fakeRemoteFileClient
	targetCalls []BackupTarget
	newErr      error
}

func (f *fakeRemoteFileClientFactory) New(target BackupTarget) (remoteFileClient, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.targetCalls = append(f.targetCalls, target)
	return f.client, nil
}

type fakeRemoteFileClient struct {
	remoteFiles    map[string][]byte
	uploadErr      error
	downloadErr    error
	existsErr      error
	closeErr       error
	uploadedPaths  []string
	downloadedPath []string
}

func (f *fakeRemoteFileClient) UploadFile(localPath, remotePath string) (int64, error) {
	if f.uploadErr != nil {
		return 0, f.uploadErr
	}

	content, err := os.ReadFile(localPath)
	if err != nil {
		return 0, err
	}
	if f.remoteFiles == nil {
		f.remoteFiles = make(map[string][]byte)
	}
	f.remoteFiles[remotePath] = content
	f.uploadedPaths = append(f.uploadedPaths, remotePath)
	return int64(len(content)), nil
}

func (f *fakeRemoteFileClient) DownloadFile(remotePath, localPath string) (int64, error) {
	if f.downloadErr != nil {
		return 0, f.downloadErr
	}
	content, ok := f.remoteFiles[remotePath]
	if !ok {
		return 0, ErrRemoteBackupNotFound
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return 0, err
	}
	f.downloadedPath = append(f.downloadedPath, remotePath)
	return int64(len(content)), nil
}

func (f *fakeRemoteFileClient) FileExists(remotePath string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.remoteFiles[remotePath]
	return ok, nil
}

func (f *fakeRemoteFileClient) Close() error {
	return f.closeErr
}

func newTestBackupService(client *fakeRemoteFileClient) (*BackupService, *fakeRemoteFileClientFactory) {
	factory := &fakeRemoteFileClientFactory{client: client}
	svc := NewBackupService(config.BackupConfig{
		Host:           "10.0.0.7",
		User:           "root",
		PrivateKeyPath: "/tmp/id_rsa",
		RemoteDir:      `/data/pyerm/`,
	})
	svc.clientFactory = factory
	svc.now = func() time.Time {
		return time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	}
	return svc, factory
}

func TestBackupServiceUploadAndRestore(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")
	finishRun(t, newClusteringExperiment(t, database), 0.9)

	client := &fakeRemoteFileClient{remoteFiles: map[string][]byte{}}
	svc, factory := newTestBackupService(client)

	result, err := svc.Upload(ctx, database)
	require.NoError(t, err)
	assert.Equal(t, "upload", result.Direction)
	assert.Equal(t, "10.0.0.7", result.Host)
	assert.Equal(t, "/data/pyerm/experiment_20240501_100000.db", result.TargetPath)
	assert.Equal(t, []string{"/data/pyerm/experiment_20240501_100000.db"}, client.uploadedPaths)
	require.Len(t, factory.targetCalls, 1)
	assert.Equal(t, 22, factory.targetCalls[0].Port)

	uploaded := client.remoteFiles[result.TargetPath]
	assert.EqualValues(t, len(uploaded), result.Bytes)
	assert.Equal(t, "SQLite format 3\x00", string(uploaded[:16]))

	_, err = svc.Upload(ctx, database)
	assert.ErrorIs(t, err, ErrRemoteBackupAlreadyExists)

	local := filepath.Join(t.TempDir(), "restored", "experiment.db")
	restored, err := svc.Restore(ctx, "experiment_20240501_100000.db", local)
	require.NoError(t, err)
	assert.Equal(t, "download", restored.Direction)
	assert.Equal(t, result.TargetPath, restored.SourcePath)

	copyDB, err := dao.OpenDatabase(ctx, local)
	require.NoError(t, err)
	t.Cleanup(func() { _ = copyDB.Close() })
	assert.True(t, copyDB.HasTable(dao.ExperimentTableName))
	assert.True(t, copyDB.HasTable("result_Clustering"))

	_, err = svc.Restore(ctx, "experiment_20240501_100000.db", local)
	assert.ErrorIs(t, err, ErrLocalRestoreTargetExists)
}

func TestBackupServiceRestoreErrors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestBackupService(&fakeRemoteFileClient{})
	local := filepath.Join(t.TempDir(), "experiment.db")

	_, err := svc.Restore(ctx, "missing.db", local)
	assert.ErrorIs(t, err, ErrRemoteBackupNotFound)

	_, err = svc.Restore(ctx, "../etc/passwd", local)
	assert.ErrorIs(t, err, ErrBackupFileNameRequired)

	_, err = svc.Restore(ctx, " ", local)
	assert.ErrorIs(t, err, ErrBackupFileNameRequired)
}

func TestBackupServiceInvalidTarget(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")

	svc := NewBackupService(config.BackupConfig{User: "root"})
	_, err := svc.Upload(ctx, database)
	assert.ErrorIs(t, err, ErrBackupHostRequired)

	svc = NewBackupService(config.BackupConfig{Host: "10.0.0.7", User: "root", RemoteDir: "/data"})
	_, err = svc.Upload(ctx, database)
	assert.ErrorIs(t, err, ErrBackupPrivateKeyRequired)

	_, err = svc.Upload(ctx, nil)
	assert.ErrorIs(t, err, dao.ErrDBNotInitialized)
}

func TestBackupServiceClientErrors(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")

	svc, factory := newTestBackupService(&fakeRemoteFileClient{})
	factory.newErr = errors.New("dial timeout")
	_, err := svc.Upload(ctx, database)
	assert.EqualError(t, err, "dial timeout")

	uploadErr := errors.New("disk full")
	svc, _ = newTestBackupService(&fakeRemoteFileClient{uploadErr: uploadErr})
	_, err = svc.Upload(ctx, database)
	assert.ErrorIs(t, err, uploadErr)
}
