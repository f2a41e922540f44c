/*
Package loader turns stored dictionary partitions into word sets.

A partition is one object per initial letter, named prefix + key + extension, holding one
word per line. Blank lines and lines starting with '#' are ignored. The extension selects
the codec:

	.gz   gzip
	.zst  zstandard
	.lz4  lz4 frame
	other plain text

Objects are read through a Source. FileSource reads a local directory, S3Source reads an
S3 bucket through the AWS SDK, and MinioSource reads any S3-compatible endpoint.

Loader.Load has the signature of types.LoadPartitionFn and is handed to the preloader:

	src := loader.NewFileSource("/var/lib/spellcache/dict")
	l := loader.NewLoader(src, &loader.Config{Extension: ".txt.zst"})
	p := preload.NewPreloader(c, l.Load, nil)
*/
package loader
