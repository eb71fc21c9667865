package s3test

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Matches lowercase letters, digits, dots and hyphens, starting and
// ending with a letter or digit, 3 to 63 characters long.
var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// Server is an in-memory S3-compatible server for backend tests. It
// covers the request surface the S3 and MinIO backends exercise: bucket
// CRUD, object CRUD with x-amz-meta headers, server-side copy,
// ListObjects V1 and V2 with delimiter grouping, and multipart uploads.
// Requests are accepted without signature verification, and aws-chunked
// request bodies are decoded transparently.
type Server struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	uploads map[string]*multipartUpload
}

type bucket struct {
	created time.Time
	objects map[string]*object
}

type object struct {
	data        []byte
	contentType string
	meta        map[string]string
	sse         bool
	etag        string
	modified    time.Time
}

type multipartUpload struct {
	bucket      string
	key         string
	contentType string
	meta        map[string]string
	sse         bool
	parts       map[int][]byte
	etags       map[int]string
}

func New() *Server {
	return &Server{
		buckets: make(map[string]*bucket),
		uploads: make(map[string]*multipartUpload),
	}
}

// StoredObject exposes a stored object's attributes for test assertions
// that need to reach behind the HTTP surface.
type StoredObject struct {
	Data        []byte
	ContentType string
	Meta        map[string]string
	SSE         bool
}

// Object returns the stored object, when present.
func (s *Server) Object(bucketName, key string) (StoredObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucketName]
	if !ok {
		return StoredObject{}, false
	}
	obj, ok := b.objects[key]
	if !ok {
		return StoredObject{}, false
	}

	return StoredObject{
		Data:        append([]byte(nil), obj.data...),
		ContentType: obj.contentType,
		Meta:        obj.meta,
		SSE:         obj.sse,
	}, true
}

// OpenUploads returns the IDs of multipart uploads that were started but
// neither completed nor aborted.
func (s *Server) OpenUploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.uploads))
	for id := range s.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Handler returns an http.Handler implementing the S3 API subset.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		s.handleListBuckets(w, r)
	})

	mux.HandleFunc("PUT /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketPut(w, r, r.PathValue("bucket"))
	})
	mux.HandleFunc("GET /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketGet(w, r, r.PathValue("bucket"))
	})
	mux.HandleFunc("HEAD /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketHead(w, r, r.PathValue("bucket"))
	})
	mux.HandleFunc("DELETE /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketDelete(w, r, r.PathValue("bucket"))
	})

	mux.HandleFunc("PUT /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectPut(w, r, r.PathValue("bucket"), r.PathValue("key"))
	})
	mux.HandleFunc("GET /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectGet(w, r, r.PathValue("bucket"), r.PathValue("key"))
	})
	mux.HandleFunc("HEAD /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectHead(w, r, r.PathValue("bucket"), r.PathValue("key"))
	})
	mux.HandleFunc("DELETE /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectDelete(w, r, r.PathValue("bucket"), r.PathValue("key"))
	})
	mux.HandleFunc("POST /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectPost(w, r, r.PathValue("bucket"), r.PathValue("key"))
	})

	return logRequests(slashFix(mux))
}

// slashFix collapses double slashes and trims the trailing slash from
// request paths. S3 clients address buckets as "/bucket/", which the
// ServeMux patterns above would otherwise route to an object with an
// empty key.
func slashFix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = strings.ReplaceAll(r.URL.Path, "//", "/")
		if r.URL.Path != "/" && strings.HasSuffix(r.URL.Path, "/") {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}
		next.ServeHTTP(w, r)
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("s3test request", "method", r.Method, "path", r.URL.Path, "query", r.URL.RawQuery)
		next.ServeHTTP(w, r)
	})
}

func writeXMLResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if err := xml.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("s3test encode response", "err", err)
	}
}

func writeS3Error(w http.ResponseWriter, code, message, resource string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:     code,
		Message:  message,
		Resource: resource,
	})
}

func writeNoSuchBucketError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
}

func writeNoSuchKeyError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "NoSuchKey", "The specified key does not exist.", r.URL.Path, http.StatusNotFound)
}

func writeNoSuchUploadError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "NoSuchUpload", "The specified multipart upload does not exist.", r.URL.Path, http.StatusNotFound)
}

func writeNotImplemented(w http.ResponseWriter, r *http.Request, op string) {
	writeS3Error(w, "NotImplemented", op+" is not implemented.", r.URL.Path, http.StatusNotImplemented)
}

func isValidBucketName(name string) bool {
	if !bucketNamePattern.MatchString(name) {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	for i := 1; i < len(name); i++ {
		if (name[i-1] == '.' && name[i] == '-') || (name[i-1] == '-' && name[i] == '.') {
			return false
		}
	}
	return net.ParseIP(name) == nil
}

func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func iso8601(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func metaFromHeaders(h http.Header) map[string]string {
	meta := map[string]string{}
	for name, values := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-meta-") && len(values) > 0 {
			meta[lower] = values[0]
		}
	}
	return meta
}

// ------ Bucket handlers ------

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]ListAllMyBucketsEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, ListAllMyBucketsEntry{
			Name:         name,
			CreationDate: iso8601(s.buckets[name].created),
		})
	}
	s.mu.Unlock()

	writeXMLResponse(w, ListAllMyBucketsResult{
		XMLNS:   s3XMLNamespace,
		Owner:   ListAllMyBucketsOwner{ID: "s3test", DisplayName: "s3test"},
		Buckets: entries,
	})
}

func (s *Server) handleBucketPut(w http.ResponseWriter, r *http.Request, bucketName string) {
	if !isValidBucketName(bucketName) {
		writeS3Error(w, "InvalidBucketName", "The specified bucket is not valid.", r.URL.Path, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.buckets[bucketName]; exists {
		writeS3Error(w, "BucketAlreadyOwnedByYou", "Your previous request to create the named bucket succeeded and you already own it.", r.URL.Path, http.StatusConflict)
		return
	}

	s.buckets[bucketName] = &bucket{
		created: time.Now().UTC(),
		objects: make(map[string]*object),
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBucketHead(w http.ResponseWriter, r *http.Request, bucketName string) {
	s.mu.Lock()
	_, exists := s.buckets[bucketName]
	s.mu.Unlock()

	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBucketGet(w http.ResponseWriter, r *http.Request, bucketName string) {
	q := r.URL.Query()

	if q.Has("location") {
		writeXMLResponse(w, LocationConstraint{XMLNS: s3XMLNamespace})
		return
	}
	if q.Has("uploads") {
		writeNotImplemented(w, r, "ListMultipartUploads")
		return
	}

	if q.Get("list-type") == "2" {
		s.handleListObjectsV2(w, r, bucketName)
		return
	}
	s.handleListObjects(w, r, bucketName)
}

func (s *Server) handleBucketDelete(w http.ResponseWriter, r *http.Request, bucketName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.buckets[bucketName]
	if !exists {
		writeNoSuchBucketError(w, r)
		return
	}
	if len(b.objects) > 0 {
		writeS3Error(w, "BucketNotEmpty", "The bucket you tried to delete is not empty.", r.URL.Path, http.StatusConflict)
		return
	}

	delete(s.buckets, bucketName)
	w.WriteHeader(http.StatusNoContent)
}

// ------ Listing ------

// listing is the delimiter-grouped result of walking a bucket's keys in
// order. A common prefix rolls its whole group into one counted entry,
// and nextKey resumes past everything the page covered.
type listing struct {
	contents  []ObjectSummary
	prefixes  []CommonPrefix
	truncated bool
	nextKey   string
}

func listBucketObjects(b *bucket, prefix, delimiter, after string, maxKeys int) listing {
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) && key > after {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var result listing
	counted := 0

	i := 0
	for i < len(keys) {
		if counted == maxKeys {
			result.truncated = true
			break
		}

		key := keys[i]
		rel := strings.TrimPrefix(key, prefix)

		if delimiter != "" {
			if idx := strings.Index(rel, delimiter); idx >= 0 {
				group := prefix + rel[:idx+len(delimiter)]

				// The whole group rolls up into one entry.
				j := i + 1
				for j < len(keys) && strings.HasPrefix(keys[j], group) {
					j++
				}

				result.prefixes = append(result.prefixes, CommonPrefix{Prefix: group})
				counted++
				result.nextKey = keys[j-1]
				i = j
				continue
			}
		}

		obj := b.objects[key]
		result.contents = append(result.contents, ObjectSummary{
			Key:          key,
			LastModified: iso8601(obj.modified),
			ETag:         createETag(obj.etag),
			Size:         int64(len(obj.data)),
			StorageClass: "STANDARD",
		})
		counted++
		result.nextKey = key
		i++
	}

	if !result.truncated {
		result.nextKey = ""
	}
	return result
}

func parseMaxKeys(q url.Values) int {
	maxKeys := 1000
	if v := q.Get("max-keys"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxKeys = n
		}
	}
	return maxKeys
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request, bucketName string) {
	q := r.URL.Query()
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	marker := q.Get("marker")
	maxKeys := parseMaxKeys(q)

	s.mu.Lock()
	b, exists := s.buckets[bucketName]
	if !exists {
		s.mu.Unlock()
		writeNoSuchBucketError(w, r)
		return
	}
	result := listBucketObjects(b, prefix, delimiter, marker, maxKeys)
	s.mu.Unlock()

	writeXMLResponse(w, ListBucketResult{
		XMLNS:          s3XMLNamespace,
		Name:           bucketName,
		Prefix:         prefix,
		Marker:         marker,
		NextMarker:     result.nextKey,
		Delimiter:      delimiter,
		MaxKeys:        maxKeys,
		IsTruncated:    result.truncated,
		Contents:       result.contents,
		CommonPrefixes: result.prefixes,
	})
}

func (s *Server) handleListObjectsV2(w http.ResponseWriter, r *http.Request, bucketName string) {
	q := r.URL.Query()
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	maxKeys := parseMaxKeys(q)

	after := q.Get("continuation-token")
	if after == "" {
		after = q.Get("start-after")
	}

	s.mu.Lock()
	b, exists := s.buckets[bucketName]
	if !exists {
		s.mu.Unlock()
		writeNoSuchBucketError(w, r)
		return
	}
	result := listBucketObjects(b, prefix, delimiter, after, maxKeys)
	s.mu.Unlock()

	writeXMLResponse(w, ListBucketResultV2{
		XMLNS:                 s3XMLNamespace,
		Name:                  bucketName,
		Prefix:                prefix,
		Delimiter:             delimiter,
		KeyCount:              len(result.contents) + len(result.prefixes),
		MaxKeys:               maxKeys,
		IsTruncated:           result.truncated,
		ContinuationToken:     q.Get("continuation-token"),
		NextContinuationToken: result.nextKey,
		StartAfter:            q.Get("start-after"),
		Contents:              result.contents,
		CommonPrefixes:        result.prefixes,
	})
}

// ------ Object handlers ------

func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	q := r.URL.Query()

	if uploadID := q.Get("uploadId"); uploadID != "" {
		partNum, err := strconv.Atoi(q.Get("partNumber"))
		if err != nil || partNum <= 0 {
			writeS3Error(w, "InvalidArgument", "Invalid part number.", r.URL.Path, http.StatusBadRequest)
			return
		}
		s.handleUploadPart(w, r, bucketName, key, uploadID, partNum)
		return
	}

	if copySource := r.Header.Get("x-amz-copy-source"); copySource != "" {
		s.handleCopyObject(w, r, bucketName, key, copySource)
		return
	}

	s.handlePutObject(w, r, bucketName, key)
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	defer r.Body.Close()

	data, err := readPayload(r.Body, r.Header.Get("X-Amz-Content-Sha256"))
	if err != nil {
		slog.Debug("s3test decode payload", "bucket", bucketName, "key", key, "err", err)
		writeS3Error(w, "InvalidRequest", "Failed to read request body.", r.URL.Path, http.StatusBadRequest)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	obj := &object{
		data:        data,
		contentType: contentType,
		meta:        metaFromHeaders(r.Header),
		sse:         r.Header.Get("x-amz-server-side-encryption") != "",
		etag:        md5Hex(data),
		modified:    time.Now().UTC(),
	}

	s.mu.Lock()
	b, exists := s.buckets[bucketName]
	if !exists {
		s.mu.Unlock()
		writeNoSuchBucketError(w, r)
		return
	}
	b.objects[key] = obj
	s.mu.Unlock()

	w.Header().Set("ETag", createETag(obj.etag))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCopyObject(w http.ResponseWriter, r *http.Request, dstBucket, dstKey, copySource string) {
	src := strings.TrimPrefix(copySource, "/")
	if unescaped, err := url.PathUnescape(src); err == nil {
		src = unescaped
	}
	srcBucket, srcKey, ok := strings.Cut(src, "/")
	if !ok || srcBucket == "" || srcKey == "" {
		writeS3Error(w, "InvalidArgument", "Invalid copy source.", r.URL.Path, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sb, exists := s.buckets[srcBucket]
	if !exists {
		s.mu.Unlock()
		writeNoSuchBucketError(w, r)
		return
	}
	srcObj, exists := sb.objects[srcKey]
	if !exists {
		s.mu.Unlock()
		writeNoSuchKeyError(w, r)
		return
	}
	db, exists := s.buckets[dstBucket]
	if !exists {
		s.mu.Unlock()
		writeNoSuchBucketError(w, r)
		return
	}

	dst := &object{
		data:        srcObj.data,
		contentType: srcObj.contentType,
		meta:        srcObj.meta,
		sse:         srcObj.sse,
		etag:        srcObj.etag,
		modified:    time.Now().UTC(),
	}
	if strings.EqualFold(r.Header.Get("x-amz-metadata-directive"), "REPLACE") {
		dst.meta = metaFromHeaders(r.Header)
		if contentType := r.Header.Get("Content-Type"); contentType != "" {
			dst.contentType = contentType
		}
	}
	db.objects[dstKey] = dst
	s.mu.Unlock()

	writeXMLResponse(w, CopyObjectResult{
		XMLNS:        s3XMLNamespace,
		LastModified: iso8601(dst.modified),
		ETag:         createETag(dst.etag),
	})
}

func (s *Server) lookupObject(bucketName, key string) (*object, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.buckets[bucketName]
	if !exists {
		return nil, false, false
	}
	obj, exists := b.objects[key]
	return obj, true, exists
}

func writeObjectHeaders(w http.ResponseWriter, obj *object) {
	w.Header().Set("Content-Type", obj.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
	w.Header().Set("ETag", createETag(obj.etag))
	w.Header().Set("Last-Modified", obj.modified.UTC().Format(http.TimeFormat))
	for name, value := range obj.meta {
		w.Header().Set(name, value)
	}
	if obj.sse {
		w.Header().Set("x-amz-server-side-encryption", "AES256")
	}
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	q := r.URL.Query()
	if q.Get("uploadId") != "" {
		writeNotImplemented(w, r, "ListParts")
		return
	}
	if q.Has("tagging") {
		writeNotImplemented(w, r, "GetObjectTagging")
		return
	}

	obj, bucketOK, objOK := s.lookupObject(bucketName, key)
	if !bucketOK {
		writeNoSuchBucketError(w, r)
		return
	}
	if !objOK {
		writeNoSuchKeyError(w, r)
		return
	}

	writeObjectHeaders(w, obj)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.data)
}

func (s *Server) handleObjectHead(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	obj, bucketOK, objOK := s.lookupObject(bucketName, key)
	if !bucketOK || !objOK {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeObjectHeaders(w, obj)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	if uploadID := r.URL.Query().Get("uploadId"); uploadID != "" {
		s.handleAbortMultipartUpload(w, r, bucketName, key, uploadID)
		return
	}

	s.mu.Lock()
	b, exists := s.buckets[bucketName]
	if !exists {
		s.mu.Unlock()
		writeNoSuchBucketError(w, r)
		return
	}
	// Deleting a missing key still succeeds; S3 deletes are idempotent.
	delete(b.objects, key)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// ------ Multipart upload handlers ------

func (s *Server) handleObjectPost(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	q := r.URL.Query()

	if q.Has("uploads") {
		s.handleCreateMultipartUpload(w, r, bucketName, key)
		return
	}
	if uploadID := q.Get("uploadId"); uploadID != "" {
		s.handleCompleteMultipartUpload(w, r, bucketName, key, uploadID)
		return
	}

	writeNotImplemented(w, r, r.Method+" "+r.URL.Path)
}

func (s *Server) handleCreateMultipartUpload(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	s.mu.Lock()
	if _, exists := s.buckets[bucketName]; !exists {
		s.mu.Unlock()
		writeNoSuchBucketError(w, r)
		return
	}

	uploadID := uuid.NewString()
	s.uploads[uploadID] = &multipartUpload{
		bucket:      bucketName,
		key:         key,
		contentType: contentType,
		meta:        metaFromHeaders(r.Header),
		sse:         r.Header.Get("x-amz-server-side-encryption") != "",
		parts:       make(map[int][]byte),
		etags:       make(map[int]string),
	}
	s.mu.Unlock()

	writeXMLResponse(w, InitiateMultipartUploadResult{
		XMLNS:    s3XMLNamespace,
		Bucket:   bucketName,
		Key:      key,
		UploadID: uploadID,
	})
}

func (s *Server) handleUploadPart(w http.ResponseWriter, r *http.Request, bucketName, key, uploadID string, partNum int) {
	defer r.Body.Close()

	s.mu.Lock()
	up, exists := s.uploads[uploadID]
	s.mu.Unlock()
	if !exists || up.bucket != bucketName || up.key != key {
		writeNoSuchUploadError(w, r)
		return
	}

	data, err := readPayload(r.Body, r.Header.Get("X-Amz-Content-Sha256"))
	if err != nil {
		slog.Debug("s3test decode part payload", "bucket", bucketName, "key", key, "err", err)
		writeS3Error(w, "InvalidRequest", "Failed to read request body.", r.URL.Path, http.StatusBadRequest)
		return
	}

	etag := md5Hex(data)

	s.mu.Lock()
	up.parts[partNum] = data
	up.etags[partNum] = etag
	s.mu.Unlock()

	w.Header().Set("ETag", createETag(etag))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCompleteMultipartUpload(w http.ResponseWriter, r *http.Request, bucketName, key, uploadID string) {
	defer r.Body.Close()

	s.mu.Lock()
	up, exists := s.uploads[uploadID]
	s.mu.Unlock()
	if !exists || up.bucket != bucketName || up.key != key {
		writeNoSuchUploadError(w, r)
		return
	}

	var req CompleteMultipartUpload
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		writeS3Error(w, "MalformedXML", "The XML you provided was not well-formed.", r.URL.Path, http.StatusBadRequest)
		return
	}
	if len(req.Parts) == 0 {
		writeS3Error(w, "InvalidRequest", "You must specify at least one part.", r.URL.Path, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		assembled []byte
		digests   = md5.New()
	)
	for _, part := range req.Parts {
		data, exists := up.parts[part.PartNumber]
		if !exists {
			writeS3Error(w, "InvalidPart", "One or more of the specified parts could not be found.", r.URL.Path, http.StatusBadRequest)
			return
		}
		if etag := strings.Trim(part.ETag, `"`); etag != "" && etag != up.etags[part.PartNumber] {
			writeS3Error(w, "InvalidPart", "One or more of the specified parts did not match.", r.URL.Path, http.StatusBadRequest)
			return
		}

		assembled = append(assembled, data...)
		sum, _ := hex.DecodeString(up.etags[part.PartNumber])
		digests.Write(sum)
	}

	b, exists := s.buckets[bucketName]
	if !exists {
		writeNoSuchBucketError(w, r)
		return
	}

	// Multipart ETags follow the S3 convention: the MD5 of the part
	// digests, suffixed with the part count.
	finalETag := fmt.Sprintf("%s-%d", hex.EncodeToString(digests.Sum(nil)), len(req.Parts))

	b.objects[key] = &object{
		data:        assembled,
		contentType: up.contentType,
		meta:        up.meta,
		sse:         up.sse,
		etag:        finalETag,
		modified:    time.Now().UTC(),
	}
	delete(s.uploads, uploadID)

	writeXMLResponse(w, CompleteMultipartUploadResult{
		XMLNS:    s3XMLNamespace,
		Location: "http://" + r.Host + "/" + bucketName + "/" + key,
		Bucket:   bucketName,
		Key:      key,
		ETag:     createETag(finalETag),
	})
}

func (s *Server) handleAbortMultipartUpload(w http.ResponseWriter, r *http.Request, bucketName, key, uploadID string) {
	s.mu.Lock()
	up, exists := s.uploads[uploadID]
	if exists && up.bucket == bucketName && up.key == key {
		delete(s.uploads, uploadID)
	}
	s.mu.Unlock()

	if !exists {
		writeNoSuchUploadError(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
