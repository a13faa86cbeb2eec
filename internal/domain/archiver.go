package domain

type Archiver interface {
	Build(stagingRoot, outDir string) (*Archive, error)
}
