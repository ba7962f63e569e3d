// SPDX-License-Identifier: MPL-2.0

package payload

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/invowk/stagehand/internal/fetch"
	"github.com/invowk/stagehand/pkg/component"
)

type staticLister struct {
	entries []fetch.Entry
	err     error
	calls   int
}

func (l *staticLister) List(context.Context, string) ([]fetch.Entry, error) {
	l.calls++
	return l.entries, l.err
}

func TestResolve(t *testing.T) {
	t.Parallel()

	lister := &staticLister{entries: []fetch.Entry{
		{URI: "https://h/docs/a.qch", RelPath: "a.qch"},
		{URI: "https://h/docs/img/b.png", RelPath: "img/b.png"},
		{URI: "https://h/docs/sub/c.qch", RelPath: "sub/c.qch"},
	}}

	tests := []struct {
		name    string
		payload component.Payload
		want    []Source
	}{
		{
			name:    "single archive",
			payload: component.Payload{ArchiveName: "x.7z", URI: "https://h/cmake.tar.xz"},
			want:    []Source{{URI: "https://h/cmake.tar.xz", RelPath: "cmake.tar.xz", Extract: true}},
		},
		{
			name:    "single opaque file",
			payload: component.Payload{ArchiveName: "x.7z", URI: "https://h/qt.conf"},
			want:    []Source{{URI: "https://h/qt.conf", RelPath: "qt.conf"}},
		},
		{
			name:    "single trailing slash is no data",
			payload: component.Payload{ArchiveName: "x.7z", URI: "https://h/dir/"},
		},
		{
			name:    "raw keeps archive name",
			payload: component.Payload{ArchiveName: "sdk-installer.run", RawURI: "https://h/build-1234.run"},
			want:    []Source{{URI: "https://h/build-1234.run", RelPath: "sdk-installer.run"}},
		},
		{
			name:    "raw trailing slash is no data",
			payload: component.Payload{ArchiveName: "a.run", RawURI: "https://h/dir/"},
		},
		{
			name:    "pattern keeps relative paths",
			payload: component.Payload{ArchiveName: "docs.7z", BaseURI: "https://h/docs/", Pattern: "**/*.qch"},
			want: []Source{
				{URI: "https://h/docs/a.qch", RelPath: "a.qch"},
				{URI: "https://h/docs/sub/c.qch", RelPath: "sub/c.qch"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Resolve(context.Background(), lister, tt.payload)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolve_PatternErrors(t *testing.T) {
	t.Parallel()

	p := component.Payload{ArchiveName: "docs.7z", BaseURI: "https://h/docs/", Pattern: "*.pdf"}

	lister := &staticLister{entries: []fetch.Entry{{URI: "https://h/docs/a.qch", RelPath: "a.qch"}}}
	if _, err := Resolve(context.Background(), lister, p); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Resolve() error = %v, want ErrNoMatch", err)
	}

	failing := &staticLister{err: fetch.ErrNotFound}
	if _, err := Resolve(context.Background(), failing, p); !errors.Is(err, fetch.ErrNotFound) {
		t.Errorf("Resolve() error = %v, want fetch.ErrNotFound", err)
	}

	single := &staticLister{}
	if _, err := Resolve(context.Background(), single, component.Payload{ArchiveName: "a.7z", URI: "https://h/a.tar"}); err != nil || single.calls != 0 {
		t.Errorf("single payloads must not list: err=%v calls=%d", err, single.calls)
	}
}
