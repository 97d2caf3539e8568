package sshutil

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/moat-sh/moat/internal/errors"
	"github.com/pkg/sftp"
)

// Upload copies a local file to the remote host, creating parent
// directories as needed. Permissions of the local file are preserved.
func (c *Client) Upload(localPath, remotePath string) error {
	client, err := sftp.NewClient(c.Client)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to open SFTP channel",
			"The remote sshd may have the sftp subsystem disabled.")
	}
	defer client.Close()

	return uploadFile(client, localPath, remotePath)
}

// UploadDir recursively copies a local directory tree to the remote host.
func (c *Client) UploadDir(localDir, remoteDir string) error {
	client, err := sftp.NewClient(c.Client)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to open SFTP channel",
			"The remote sshd may have the sftp subsystem disabled.")
	}
	defer client.Close()

	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		remote := path.Join(remoteDir, filepath.ToSlash(rel))

		if info.IsDir() {
			if err := client.MkdirAll(remote); err != nil {
				return fmt.Errorf("mkdir %s: %w", remote, err)
			}
			return nil
		}

		return uploadFile(client, p, remote)
	})
}

func uploadFile(client *sftp.Client, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy to %s: %w", remotePath, err)
	}

	if info, err := src.Stat(); err == nil {
		_ = client.Chmod(remotePath, info.Mode().Perm())
	}

	return nil
}
