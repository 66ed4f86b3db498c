package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kiyor/golib"

	"github.com/kiyor/k2share/pkg/token"
)

// Entry is one row of a listing.
type Entry struct {
	NavigationToken string `json:"token"`
	DisplayName     string `json:"name"`
	SizeLabel       string `json:"size"`
	ModifiedLabel   string `json:"modified"`
	IsDirectory     bool   `json:"is_dir"`
}

// less orders entries by the whole record, token first.
func (e Entry) less(o Entry) bool {
	if e.NavigationToken != o.NavigationToken {
		return e.NavigationToken < o.NavigationToken
	}
	if e.DisplayName != o.DisplayName {
		return e.DisplayName < o.DisplayName
	}
	if e.SizeLabel != o.SizeLabel {
		return e.SizeLabel < o.SizeLabel
	}
	return e.ModifiedLabel < o.ModifiedLabel
}

// statWorkers bounds the stat fan-out of one listing.
const statWorkers = 16

// List returns the sub-directories and regular files directly under dir.
// Anything else (broken links, sockets, devices) is left out.
func List(dir string) (dirs, files []Entry, err error) {
	if _, err := StatDir(dir); err != nil {
		return nil, nil, err
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, nil, err
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", dir, err)
	}

	rows := make([]*Entry, len(ents))
	tasks := make([]golib.Task, 0, len(ents))
	for i, e := range ents {
		i, p := i, filepath.Join(dir, e.Name())
		tasks = append(tasks, golib.NewTask(func() error {
			rows[i] = stat(p)
			return nil
		}, nil, false))
	}
	if len(tasks) > 0 {
		workers := statWorkers
		if len(tasks) < workers {
			workers = len(tasks)
		}
		golib.NewManager(workers, len(tasks)).Do(tasks)
	}

	dirs = make([]Entry, 0)
	files = make([]Entry, 0)
	for _, r := range rows {
		if r == nil {
			continue
		}
		if r.IsDirectory {
			dirs = append(dirs, *r)
		} else {
			files = append(files, *r)
		}
	}
	sortEntries(dirs)
	sortEntries(files)
	return dirs, files, nil
}

func stat(p string) *Entry {
	fi, err := os.Stat(p)
	if err != nil {
		return nil
	}
	if !fi.IsDir() && !fi.Mode().IsRegular() {
		return nil
	}
	return &Entry{
		NavigationToken: token.Encode(p),
		DisplayName:     filepath.Base(p),
		SizeLabel:       SizeLabel(fi.Size()),
		ModifiedLabel:   ModTimeLabel(fi.ModTime()),
		IsDirectory:     fi.IsDir(),
	}
}

func sortEntries(list []Entry) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].less(list[j])
	})
}
