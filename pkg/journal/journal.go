// Package journal 是一個以 JSON Lines 格式追加寫入的本地檔案，
// 用來暫存尚未成功送出的事件，重啟後可以重新投遞
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	// rw-r--r--
	FileModeDefault fs.FileMode = 0644
	// rwxr-xr-x，用於建立上層目錄
	DirMode fs.FileMode = 0755
)

// Journal 執行緒安全的追加寫入檔案
type Journal struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// Open 開啟或建立 journal 檔案，上層目錄不存在會自動建立
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeDefault)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Journal{path: path, file: file}, nil
}

// Path 檔案路徑
func (j *Journal) Path() string {
	return j.path
}

// Append 寫入一筆資料並 fsync
func (j *Journal) Append(v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := json.NewEncoder(j.file).Encode(v); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return j.file.Sync()
}

// ReadAll 從頭依序讀取每一筆資料
//
// 參數:
//
//	fn: 每筆資料的原始 JSON，回傳錯誤會中止讀取
//
// 回傳:
//
//	error: 讀取或解析失敗，或 fn 回傳的錯誤
func (j *Journal) ReadAll(fn func(raw json.RawMessage) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(j.file)
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("journal: decode: %w", err)
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
}

// Rewrite 以 entries 取代整個檔案內容，entries 為空時等同清空
//
// 先寫暫存檔再 rename，中途失敗不會破壞原本的內容
func (j *Journal) Rewrite(entries []json.RawMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tmpPath := j.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, FileModeDefault)
	if err != nil {
		return fmt.Errorf("journal: create temp: %w", err)
	}
	for _, raw := range entries {
		if _, err := tmp.Write(append(append([]byte{}, raw...), '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("journal: write temp: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := j.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("journal: replace: %w", err)
	}
	file, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeDefault)
	if err != nil {
		return fmt.Errorf("journal: reopen: %w", err)
	}
	j.file = file
	return nil
}

// Sync 強制刷入硬碟
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Sync()
}

// Close 關閉檔案
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
