package dashcore

import "strings"

// TypeSupport reports whether the media sink can accept a given MIME type
// (spec.md §6 "Type-support predicate"). An external collaborator.
type TypeSupport func(mimeType string) bool

// ProcessManifest normalises a raw parsed manifest in place (spec.md §4.1,
// C9):
//
//  1. assigns a dense, manifest-scoped unique ID to every StreamSet and
//     StreamInfo;
//  2. drops StreamInfos whose FullMIMEType the sink cannot accept;
//  3. drops StreamSets left empty;
//  4. reduces each period/content-type group to its maximal compatibility
//     group: for video, the single first mutually-compatible StreamSet
//     survives; for audio, every MIME-compatible StreamSet survives; text is
//     untouched (all sets are always compatible).
//
// Returns ErrManifestEmpty if no period has any playable stream set
// afterward.
func ProcessManifest(m *Manifest, supports TypeSupport) error {
	nextID := 0
	assign := func() int {
		id := nextID
		nextID++
		return id
	}

	anyPlayable := false

	for _, period := range m.Periods {
		var kept []*StreamSet
		for _, set := range period.StreamSets {
			var survivors []*StreamInfo
			for _, info := range set.Streams {
				if supports != nil && !supports(info.FullMIMEType) {
					continue
				}
				info.UniqueID = assign()
				info.Enabled = true
				survivors = append(survivors, info)
			}
			if len(survivors) == 0 {
				continue
			}
			set.Streams = survivors
			set.UniqueID = assign()
			kept = append(kept, set)
		}
		period.StreamSets = compatibilityGroups(kept)
		for _, set := range period.StreamSets {
			if len(set.Streams) > 0 {
				anyPlayable = true
			}
		}
	}

	if !anyPlayable {
		return ErrManifestEmpty
	}
	return nil
}

// compatibilityGroups applies the per-type retention policy of spec.md
// §4.1 step 4: group StreamSets by content type and keep the first
// encountered set of each type. For video, only that single StreamSet is
// retained; for audio, every later set sharing its basic MIME type is
// retained; text sets are all retained regardless of MIME type.
func compatibilityGroups(sets []*StreamSet) []*StreamSet {
	var out []*StreamSet
	reference := map[ContentType]string{}

	for _, set := range sets {
		if len(set.Streams) == 0 {
			continue
		}
		basic := basicMIMEType(set.Streams[0].FullMIMEType)

		ref, seen := reference[set.ContentType]
		if !seen {
			reference[set.ContentType] = basic
			out = append(out, set)
			continue
		}

		switch set.ContentType {
		case ContentTypeVideo:
			// Only the first mutually-compatible set is kept; subsequent
			// video sets of a different basic type are dropped, matching
			// ones are also dropped since exactly one survives.
			continue
		case ContentTypeAudio:
			if basic == ref {
				out = append(out, set)
			}
		case ContentTypeText:
			out = append(out, set)
		}
	}
	return out
}

// basicMIMEType returns the container plus top-level codec family,
// stripping codec-profile parameters (e.g. "video/mp4;codecs=avc1.640028"
// -> "video/mp4;codecs=avc1").
func basicMIMEType(mime string) string {
	semi := strings.IndexByte(mime, ';')
	if semi < 0 {
		return mime
	}
	base := mime[:semi]
	params := mime[semi+1:]
	if !strings.HasPrefix(strings.TrimSpace(params), "codecs=") {
		return base
	}
	codecs := strings.TrimPrefix(strings.TrimSpace(params), "codecs=")
	codecs = strings.Trim(codecs, `"`)
	if dot := strings.IndexByte(codecs, '.'); dot >= 0 {
		codecs = codecs[:dot]
	}
	return base + ";codecs=" + codecs
}
