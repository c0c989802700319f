package manifest

import "time"

// timeLayout is the "YYYY-MM-DDThh:mm:ss" form spec §6 requires for the
// start/end settings. Values are local wall-clock strings with no offset,
// matched by time.ParseInLocation against the location the caller wants
// (the façade always uses time.Local, matching how snapshot filenames are
// derived from wall-clock minutes).
const timeLayout = "2006-01-02T15:04:05"

func formatManifestTime(t time.Time) string {
	return t.Format(timeLayout)
}

func parseManifestTime(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, loc)
}
