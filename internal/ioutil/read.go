package ioutil

import "io"

// ReadLimited reads at most limit bytes from r. Bytes beyond the limit are
// left unread and truncated reports whether there were any.
func ReadLimited(r io.Reader, limit int64) (body []byte, truncated bool, err error) {
	body, err = io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return body, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}
