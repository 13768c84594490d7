package storage

import (
	"context"
	"fmt"

	"survey-map/pkg/survey"
)

// RebuildTrackIndex replaces the index with every *.rctrk file of the data
// directory in name order. Titles, descriptions and units are reset.
func RebuildTrackIndex(ctx context.Context, st Store, b Blobs) (int, error) {
	keys, err := b.TrackFiles()
	if err != nil {
		return 0, fmt.Errorf("list track files: %w", err)
	}
	entries := make([]survey.IndexEntry, len(keys))
	for i, k := range keys {
		entries[i] = survey.IndexEntry{File: k, Unit: survey.DefaultUnit}
	}
	if err := st.ReplaceTracks(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// SyncSiteImages sets every site's images to the files found in its image
// directory. Captions follow their image; new images get an empty caption.
func SyncSiteImages(ctx context.Context, st Store, b Blobs) (int, error) {
	sites, err := st.Sites(ctx)
	if err != nil {
		return 0, err
	}
	for _, site := range sites {
		files, err := b.SiteImages(site.ID())
		if err != nil {
			return 0, fmt.Errorf("site %s: %w", site.ID(), err)
		}
		oldImages, _ := site.Strings("images")
		oldCaptions, _ := site.Strings("captions")

		images := make([]string, 0, len(files))
		captions := make([]string, 0, len(files))
		for _, f := range files {
			caption := ""
			for i, img := range oldImages {
				if img == f {
					if i < len(oldCaptions) {
						caption = oldCaptions[i]
					}
					break
				}
			}
			images = append(images, f)
			captions = append(captions, caption)
		}
		site["images"] = images
		site["captions"] = captions
	}
	if err := st.ReplaceSites(ctx, sites); err != nil {
		return 0, err
	}
	return len(sites), nil
}
