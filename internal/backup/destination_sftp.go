package backup

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPDestination stores backups on a remote SFTP server
type SFTPDestination struct {
	config     *DestinationConfig
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// NewSFTPDestination connects to the SFTP server and ensures the base path exists
func NewSFTPDestination(cfg *DestinationConfig) (*SFTPDestination, error) {
	dest := &SFTPDestination{config: cfg}
	if err := dest.connect(); err != nil {
		return nil, err
	}
	return dest, nil
}

func (sd *SFTPDestination) clientConfig() (*ssh.ClientConfig, error) {
	hostKeyCallback, err := knownHostsCallback(sd.config.KnownHostsPath, sd.config.TrustOnFirstUse)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            sd.config.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	switch {
	case sd.config.PrivateKeyPath != "":
		keyData, err := os.ReadFile(sd.config.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		sshConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case sd.config.Password != "":
		sshConfig.Auth = []ssh.AuthMethod{ssh.Password(sd.config.Password)}
	default:
		return nil, fmt.Errorf("no authentication method provided for SFTP")
	}

	return sshConfig, nil
}

func (sd *SFTPDestination) connect() error {
	sshConfig, err := sd.clientConfig()
	if err != nil {
		return err
	}

	port := sd.config.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(sd.config.Host, strconv.Itoa(port))
	log.Printf("[SFTPDest] Connecting to %s...", addr)

	sshClient, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to SSH server: %w", err)
	}
	sd.sshClient = sshClient

	sftpClient, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	sd.sftpClient = sftpClient

	if err := sd.sftpClient.MkdirAll(sd.basePath()); err != nil {
		sd.Close()
		return fmt.Errorf("failed to create base directory: %w", err)
	}
	return nil
}

func (sd *SFTPDestination) basePath() string {
	if sd.config.Path == "" {
		return "."
	}
	return sd.config.Path
}

// Close closes the SFTP and SSH connections
func (sd *SFTPDestination) Close() error {
	if sd.sftpClient != nil {
		sd.sftpClient.Close()
	}
	if sd.sshClient != nil {
		return sd.sshClient.Close()
	}
	return nil
}

// Upload uploads a backup file to the SFTP destination
func (sd *SFTPDestination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	destPath := path.Join(sd.basePath(), path.Base(filename))
	log.Printf("[SFTPDest] Uploading %s to %s (%d bytes)", filename, destPath, sizeBytes)

	file, err := sd.sftpClient.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := file.ReadFrom(reader)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		sd.sftpClient.Remove(destPath)
		return fmt.Errorf("failed to write remote file: %w", err)
	}

	if written != sizeBytes {
		sd.sftpClient.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}
	return nil
}

// Download downloads a backup file from the SFTP destination
func (sd *SFTPDestination) Download(filename string, writer io.Writer) error {
	file, err := sd.sftpClient.Open(path.Join(sd.basePath(), path.Base(filename)))
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteTo(writer); err != nil {
		return fmt.Errorf("failed to read remote file: %w", err)
	}
	return nil
}

// Delete removes a backup file from the SFTP destination
func (sd *SFTPDestination) Delete(filename string) error {
	destPath := path.Join(sd.basePath(), path.Base(filename))
	log.Printf("[SFTPDest] Deleting %s", destPath)

	if err := sd.sftpClient.Remove(destPath); err != nil {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

// List returns all backup archives in the SFTP destination
func (sd *SFTPDestination) List() ([]BackupFile, error) {
	entries, err := sd.sftpClient.ReadDir(sd.basePath())
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	files := []BackupFile{}
	for _, entry := range entries {
		if entry.IsDir() || !isArchiveName(entry.Name()) {
			continue
		}
		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: entry.Size(),
			CreatedAt: entry.ModTime(),
		})
	}
	return files, nil
}

// GetType returns the destination type
func (sd *SFTPDestination) GetType() string {
	return "sftp"
}
