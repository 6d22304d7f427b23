package backup

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/ZakirC4/papermc-setup/internal/logging"
)

// ErrHostKeyChanged is returned when a known SFTP host presents a different key
var ErrHostKeyChanged = errors.New("ssh host key changed")

// knownHostsCallback verifies SFTP host keys against a known_hosts file.
// With trustOnFirstUse an unknown host is recorded on first contact.
func knownHostsCallback(knownHostsPath string, trustOnFirstUse bool) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(knownHostsPath) == "" {
		return nil, fmt.Errorf("known_hosts path is required for sftp backups")
	}

	if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create known_hosts directory: %w", err)
	}
	file, err := os.OpenFile(knownHostsPath, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	file.Close()

	verify, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if err == nil || !errors.As(err, &keyErr) {
			return err
		}

		fingerprint := ssh.FingerprintSHA256(key)
		if len(keyErr.Want) > 0 {
			logging.L().Warn("backup_host_key_changed", "host", hostname, "fingerprint", fingerprint)
			return fmt.Errorf("%w for %s", ErrHostKeyChanged, hostname)
		}
		if !trustOnFirstUse {
			return fmt.Errorf("unknown ssh host key for %s (%s)", hostname, fingerprint)
		}

		if err := appendKnownHost(knownHostsPath, hostname, remote, key); err != nil {
			return err
		}
		logging.L().Info("backup_host_key_trusted", "host", hostname, "fingerprint", fingerprint)
		return nil
	}, nil
}

func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	hosts := []string{knownhosts.Normalize(hostname)}
	if remote != nil {
		if addr := knownhosts.Normalize(remote.String()); addr != hosts[0] {
			hosts = append(hosts, addr)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(knownhosts.Line(hosts, key) + "\n"); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}
