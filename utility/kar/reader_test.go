// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"errors"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Zubo/obsidian-engine-sub000/utility/kar"
	"golang.org/x/exp/mmap"
)

func writeTestArchive(t *testing.T) string {
	t.Helper()
	data := buildArchive(t, map[string]string{
		"test/test1.txt": "this is a test",
		"test/test2.txt": "this is another test",
	})
	path := filepath.Join(t.TempDir(), "opentest.kar")
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFileAndCompare(f *kar.Reader, expected string, t *testing.T) error {
	result := make([]byte, len(expected))
	n, err := io.ReadFull(f, result)
	if err != nil {
		t.Error(err)
	}
	if n < len(expected) {
		return errors.New("incorrect number of bytes read")
	}

	if strings.Compare(string(result), expected) != 0 {
		return errors.New("test string does not match up")
	}

	return nil
}

func TestOpen(t *testing.T) {
	r, err := os.Open(writeTestArchive(t))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ar, err := kar.Open(r)
	if err != nil {
		t.Fatal(err)
	}

	if ar.Header().Author != "devblok" {
		t.Errorf("unexpected author %q", ar.Header().Author)
	}
}

func TestOpenmmap(t *testing.T) {
	r, err := mmap.Open(writeTestArchive(t))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ar, err := kar.Open(r)
	if err != nil {
		t.Fatal(err)
	}

	if f, err := ar.Open("test/test2.txt"); err != nil {
		t.Error(err)
	} else if err := readFileAndCompare(f, "this is another test", t); err != nil {
		t.Error(err)
	}
}

func TestOpenAndRead(t *testing.T) {
	r, err := os.Open(writeTestArchive(t))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ar, err := kar.Open(r)
	if err != nil {
		t.Fatal(err)
	}

	if f, err := ar.Open("test/test1.txt"); err != nil {
		t.Error(err)
	} else if err := readFileAndCompare(f, "this is a test", t); err != nil {
		t.Error(err)
	}

	if f, err := ar.Open("test/test2.txt"); err != nil {
		t.Error(err)
	} else if err := readFileAndCompare(f, "this is another test", t); err != nil {
		t.Error(err)
	}
}

func TestConcurrentReadAll(t *testing.T) {
	r, err := mmap.Open(writeTestArchive(t))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ar, err := kar.Open(r)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, expected := "test/test1.txt", "this is a test"
			if i%2 == 1 {
				name, expected = "test/test2.txt", "this is another test"
			}
			if f, err := ar.ReadAll(name); err != nil {
				t.Error(err)
			} else if strings.Compare(expected, string(f)) != 0 {
				t.Error(errors.New("result is not expected value"))
			}
		}(i)
	}
	wg.Wait()
}
