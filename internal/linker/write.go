package linker

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tbjgolden/xnr-sub000/internal/fs"
	"github.com/tbjgolden/xnr-sub000/internal/graph"
)

// Writes every output file below "outputDir". Either all files are written or,
// if any write fails, everything this call wrote is removed again (including
// the output directory itself if it didn't exist before).
func WriteOutputFiles(fsys fs.FS, outputDir string, files []graph.OutputFile, concurrency int) error {
	_, existed := fs.Lookup(fsys, outputDir)

	var writtenMutex sync.Mutex
	var written []string

	g := new(errgroup.Group)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := fsys.MkdirAll(fsys.Dir(file.AbsPath)); err != nil {
				return err
			}
			if err := fsys.WriteFile(file.AbsPath, file.Contents); err != nil {
				return err
			}
			writtenMutex.Lock()
			written = append(written, file.AbsPath)
			writtenMutex.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if !existed {
			fsys.RemoveAll(outputDir)
		} else {
			for _, path := range written {
				fsys.RemoveAll(path)
			}
		}
		return err
	}
	return nil
}
