// Package dataset fetches and decodes the OpenBeta curated routes dataset.
//
// The dataset is JSON Lines, optionally zipped, with one route per line in
// the dataset's own column names. Fetch downloads it into the data directory
// once; Load decodes it; Transform turns records into routes ready for
// embedding.
package dataset
