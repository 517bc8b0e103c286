package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	mega "github.com/t3rm1n4l/go-mega"
)

type megaRemote struct {
	client *mega.Mega
	folder *mega.Node
}

func folderPath(raw string) []string {
	var parts []string
	for _, part := range strings.Split(raw, "/") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		parts = []string{"sitehost", "backups"}
	}
	return parts
}

func dialMega(ctx context.Context, username, password string, folder []string) (Remote, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	client := mega.New()
	client.SetTimeOut(45 * time.Second)
	client.SetUploadWorkers(4)
	client.SetDownloadWorkers(4)
	if err := client.Login(username, password); err != nil {
		return nil, nil, fmt.Errorf("mega login failed: %w", err)
	}
	node, err := ensurePath(client, folder)
	if err != nil {
		return nil, nil, err
	}
	return &megaRemote{client: client, folder: node}, func() {}, nil
}

func (m *megaRemote) Upload(ctx context.Context, localPath, name string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	_, err := m.client.UploadFile(localPath, m.folder, name, nil)
	return err
}

func (m *megaRemote) List(ctx context.Context) ([]Descriptor, error) {
	files, err := m.files()
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(files))
	for _, f := range files {
		out = append(out, Descriptor{Name: f.GetName(), SizeBytes: f.GetSize(), CreatedAt: f.GetTimeStamp()})
	}
	return out, nil
}

func (m *megaRemote) Download(ctx context.Context, name, destPath string) error {
	node, err := m.find(name)
	if err != nil {
		return err
	}
	return m.client.DownloadFile(node, destPath, nil)
}

func (m *megaRemote) Delete(ctx context.Context, name string) error {
	node, err := m.find(name)
	if err != nil {
		return err
	}
	return m.client.Delete(node, true)
}

func (m *megaRemote) find(name string) (*mega.Node, error) {
	files, err := m.files()
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.GetName() == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("backup %s not found", name)
}

// files lists backup artefacts in the folder, newest first.
func (m *megaRemote) files() ([]*mega.Node, error) {
	children, err := m.client.FS.GetChildren(m.folder)
	if err != nil {
		return nil, err
	}
	files := make([]*mega.Node, 0, len(children))
	for _, child := range children {
		if child.GetType() == mega.FILE && strings.HasSuffix(child.GetName(), ".json.gz") {
			files = append(files, child)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].GetTimeStamp().After(files[j].GetTimeStamp())
	})
	return files, nil
}

func ensurePath(m *mega.Mega, parts []string) (*mega.Node, error) {
	node := m.FS.GetRoot()
	if node == nil {
		return nil, errors.New("mega: root not available")
	}
	for _, part := range parts {
		child, err := findChild(m, node, part)
		if err != nil {
			return nil, err
		}
		if child == nil {
			child, err = m.CreateDir(part, node)
			if err != nil {
				return nil, err
			}
		}
		node = child
	}
	return node, nil
}

func findChild(m *mega.Mega, parent *mega.Node, name string) (*mega.Node, error) {
	children, err := m.FS.GetChildren(parent)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.GetType() == mega.FOLDER && strings.EqualFold(child.GetName(), name) {
			return child, nil
		}
	}
	return nil, nil
}
