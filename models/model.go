package models

// Source stores the zuul-web tenant API an archive was built from and the
// embedding provider used to index it.
type Source struct {
	Alias  string
	URL    string
	Client string
	Model  string
}

// HasEmbeddings reports whether builds of this source are vector indexed.
func (s Source) HasEmbeddings() bool {
	return s.Client != "" && s.Client != "none"
}

// ArchivedBuild is a build row read back from the archive.
type ArchivedBuild struct {
	ID    int64
	Build Build
	Score float64
}
