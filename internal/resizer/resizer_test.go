package resizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-resizer/internal/catalog"
	"github.com/fpang/image-resizer/internal/metrics"
	"github.com/fpang/image-resizer/internal/naming"
	"github.com/fpang/image-resizer/internal/objectstore"
	"github.com/fpang/image-resizer/internal/resample"
)

func TestMain(m *testing.M) {
	log.Logger = zerolog.Nop()
	metrics.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// --- fakes ---

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte // "bucket/key" -> body
	getErr  error
	failPut map[string]error // dst key -> error
	gets    []string
	puts    []objectstore.PutInput
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte), failPut: make(map[string]error)}
}

func (f *fakeStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, bucket+"/"+key)
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", objectstore.ErrNotFound, bucket, key)
	}
	return data, nil
}

func (f *fakeStore) Put(_ context.Context, in objectstore.PutInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failPut[in.Key]; err != nil {
		return err
	}
	f.puts = append(f.puts, in)
	return nil
}

func (f *fakeStore) putKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, len(f.puts))
	for i, p := range f.puts {
		keys[i] = p.Key
	}
	sort.Strings(keys)
	return keys
}

// fakeResampler encodes the requested width into the output so tests can
// check that each upload carries the bytes of its own catalog entry.
type fakeResampler struct {
	mu     sync.Mutex
	calls  []int
	fail   map[int]error
	panics map[int]bool
}

func (f *fakeResampler) Resize(_ context.Context, data []byte, width int) (resample.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, width)
	err := f.fail[width]
	panics := f.panics[width]
	f.mu.Unlock()

	if panics {
		panic("corrupt scanline")
	}
	if err != nil {
		return resample.Output{}, err
	}
	return resample.Output{
		Data:     []byte(fmt.Sprintf("w=%d", width)),
		MIMEType: "image/png",
		Width:    width,
		Height:   width / 2,
	}, nil
}

func (f *fakeResampler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func s3Event(bucket, key string) events.S3Event {
	return events.S3Event{Records: []events.S3EventRecord{{
		EventName: "ObjectCreated:Put",
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: bucket},
			Object: events.S3Object{Key: key},
		},
	}}}
}

func newService(store *fakeStore, rs *fakeResampler) *Service {
	return New(store, rs, Options{
		Sizes:         catalog.Default(),
		Naming:        naming.DefaultPolicy(),
		SkipGenerated: true,
	})
}

// --- Handle ---

func TestHandle_SupportedExtensions(t *testing.T) {
	tests := []struct {
		key       string
		imageType string
	}{
		{"photo.jpg", "jpg"},
		{"photo.JPG", "jpg"},
		{"photo.jpeg", "jpeg"},
		{"photo.png", "png"},
		{"photo.PNG", "png"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			store := newFakeStore()
			store.objects["photos/"+tt.key] = []byte("original")
			rs := &fakeResampler{}

			out := newService(store, rs).Handle(context.Background(), s3Event("photos", tt.key))

			if out.Status != StatusCompleted {
				t.Fatalf("Status = %q (%s), want completed", out.Status, out.Reason)
			}
			if out.ImageType != tt.imageType {
				t.Errorf("ImageType = %q, want %q", out.ImageType, tt.imageType)
			}
			if got := len(store.putKeys()); got != 4 {
				t.Errorf("puts = %d, want 4", got)
			}
		})
	}
}

func TestHandle_UnsupportedExtensionWritesNothing(t *testing.T) {
	for _, key := range []string{"photo.gif", "clip.webp", "notes.txt", "README"} {
		t.Run(key, func(t *testing.T) {
			store := newFakeStore()
			store.objects["photos/"+key] = []byte("original")
			rs := &fakeResampler{}

			out := newService(store, rs).Handle(context.Background(), s3Event("photos", key))

			if out.Status != StatusUnsupported && out.Status != StatusInvalidKey {
				t.Errorf("Status = %q, want unsupported or invalid-key", out.Status)
			}
			if len(store.gets) != 0 {
				t.Errorf("store read %v, want no reads", store.gets)
			}
			if rs.callCount() != 0 || len(store.puts) != 0 {
				t.Errorf("resizes = %d, puts = %d, want 0", rs.callCount(), len(store.puts))
			}
		})
	}
}

func TestHandle_UploadsOneVariantPerLabel(t *testing.T) {
	store := newFakeStore()
	store.objects["photos/folder/photo.JPG"] = []byte("original")
	rs := &fakeResampler{}

	out := newService(store, rs).Handle(context.Background(), s3Event("photos", "folder/photo.JPG"))

	if out.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", out.Status)
	}
	if out.DstBucket != "photos-test" {
		t.Errorf("DstBucket = %q, want photos-test", out.DstBucket)
	}

	want := map[string]string{
		"sm/photo-sm.png":   "w=200",
		"md/photo-md.png":   "w=400",
		"lg/photo-lg.png":   "w=600",
		"xlg/photo-xlg.png": "w=800",
	}
	if len(store.puts) != len(want) {
		t.Fatalf("puts = %d, want %d", len(store.puts), len(want))
	}
	for _, p := range store.puts {
		body, ok := want[p.Key]
		if !ok {
			t.Errorf("unexpected key %q", p.Key)
			continue
		}
		if string(p.Body) != body {
			t.Errorf("%s body = %q, want %q", p.Key, p.Body, body)
		}
		if p.Bucket != "photos-test" {
			t.Errorf("%s bucket = %q", p.Key, p.Bucket)
		}
		if p.ContentType != "image" {
			t.Errorf("%s content type = %q, want image", p.Key, p.ContentType)
		}
	}

	// Results stay in catalog order.
	for i, r := range out.Upload.Results {
		if want := catalog.Default().At(i).Label; r.Label != want {
			t.Errorf("Results[%d].Label = %q, want %q", i, r.Label, want)
		}
	}
	if out.Upload.Uploaded != 4 || out.Variants != 4 {
		t.Errorf("Uploaded = %d, Variants = %d, want 4/4", out.Upload.Uploaded, out.Variants)
	}
}

func TestHandle_DecodesKeyBeforeFetch(t *testing.T) {
	store := newFakeStore()
	store.objects["photos/a b c.png"] = []byte("original")
	rs := &fakeResampler{}

	out := newService(store, rs).Handle(context.Background(), s3Event("photos", "a+b%20c.png"))

	if out.SrcKey != "a b c.png" {
		t.Errorf("SrcKey = %q, want %q", out.SrcKey, "a b c.png")
	}
	if len(store.gets) != 1 || store.gets[0] != "photos/a b c.png" {
		t.Errorf("gets = %v, want [photos/a b c.png]", store.gets)
	}
	keys := store.putKeys()
	if len(keys) != 4 || keys[0] != "lg/a b c-lg.png" {
		t.Errorf("put keys = %v", keys)
	}
}

func TestHandle_InvalidEncodingAborts(t *testing.T) {
	store := newFakeStore()
	rs := &fakeResampler{}

	out := newService(store, rs).Handle(context.Background(), s3Event("photos", "bad%zz.png"))

	if out.Status != StatusInvalidKey {
		t.Errorf("Status = %q, want invalid-key", out.Status)
	}
	if len(store.gets) != 0 {
		t.Errorf("gets = %v, want none", store.gets)
	}
}

func TestHandle_FetchFailureStopsPipeline(t *testing.T) {
	tests := []struct {
		name   string
		getErr error
	}{
		{"missing", nil},
		{"denied", errors.New("AccessDenied")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.getErr = tt.getErr
			rs := &fakeResampler{}

			out := newService(store, rs).Handle(context.Background(), s3Event("photos", "photo.jpg"))

			if out.Status != StatusFetchFailed {
				t.Errorf("Status = %q, want fetch-failed", out.Status)
			}
			if rs.callCount() != 0 {
				t.Errorf("resizes = %d, want 0", rs.callCount())
			}
			if len(store.puts) != 0 {
				t.Errorf("puts = %d, want 0", len(store.puts))
			}
		})
	}
}

func TestHandle_OneResizeFailureSkipsOnlyThatLabel(t *testing.T) {
	store := newFakeStore()
	store.objects["photos/photo.png"] = []byte("original")
	rs := &fakeResampler{fail: map[int]error{600: errors.New("out of memory")}}

	out := newService(store, rs).Handle(context.Background(), s3Event("photos", "photo.png"))

	if out.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", out.Status)
	}
	want := []string{"md/photo-md.png", "sm/photo-sm.png", "xlg/photo-xlg.png"}
	if got := store.putKeys(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("put keys = %v, want %v", got, want)
	}
	if out.Upload.Skipped != 1 || !out.Upload.Results[2].Skipped {
		t.Errorf("Skipped = %d, Results[2] = %+v", out.Upload.Skipped, out.Upload.Results[2])
	}
}

func TestHandle_ResamplerPanicIsContained(t *testing.T) {
	store := newFakeStore()
	store.objects["photos/photo.png"] = []byte("original")
	rs := &fakeResampler{panics: map[int]bool{200: true}}

	out := newService(store, rs).Handle(context.Background(), s3Event("photos", "photo.png"))

	if out.Status != StatusCompleted || out.Upload.Uploaded != 3 {
		t.Errorf("Status = %q, Uploaded = %d, want completed/3", out.Status, out.Upload.Uploaded)
	}
}

func TestHandle_AllResizesFail(t *testing.T) {
	store := newFakeStore()
	store.objects["photos/photo.png"] = []byte("original")
	boom := errors.New("not an image")
	rs := &fakeResampler{fail: map[int]error{200: boom, 400: boom, 600: boom, 800: boom}}

	out := newService(store, rs).Handle(context.Background(), s3Event("photos", "photo.png"))

	if out.Status != StatusResizeFailed {
		t.Errorf("Status = %q, want resize-failed", out.Status)
	}
	if len(store.puts) != 0 {
		t.Errorf("puts = %d, want 0", len(store.puts))
	}
}

func TestHandle_UploadFailureDoesNotStopSiblings(t *testing.T) {
	store := newFakeStore()
	store.objects["photos/photo.png"] = []byte("original")
	store.failPut["md/photo-md.png"] = errors.New("SlowDown")
	rs := &fakeResampler{}

	svc := newService(store, rs)
	out := svc.Handle(context.Background(), s3Event("photos", "photo.png"))

	if out.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", out.Status)
	}
	if out.Upload.Uploaded != 3 || out.Upload.Failed != 1 {
		t.Errorf("Uploaded = %d, Failed = %d, want 3/1", out.Upload.Uploaded, out.Upload.Failed)
	}
	if out.Upload.Results[1].Err == nil {
		t.Error("Results[1].Err = nil, want upload error")
	}
	if keys := out.Upload.Keys(); len(keys) != 3 {
		t.Errorf("Keys = %v, want 3 keys", keys)
	}

	if err := svc.HandleLambda(context.Background(), s3Event("photos", "photo.png")); err != nil {
		t.Errorf("HandleLambda returned %v, want nil", err)
	}
}

func TestHandle_NoRecords(t *testing.T) {
	store := newFakeStore()
	rs := &fakeResampler{}
	svc := newService(store, rs)

	if out := svc.Handle(context.Background(), events.S3Event{}); out.Status != StatusNoRecords {
		t.Errorf("Status = %q, want no-records", out.Status)
	}
	if out := svc.Handle(context.Background(), s3Event("", "photo.png")); out.Status != StatusNoRecords {
		t.Errorf("empty bucket: Status = %q, want no-records", out.Status)
	}
	if err := svc.HandleLambda(context.Background(), events.S3Event{}); err != nil {
		t.Errorf("HandleLambda returned %v, want nil", err)
	}
	if len(store.gets) != 0 {
		t.Errorf("gets = %v, want none", store.gets)
	}
}

func TestHandle_OnlyFirstRecordIsProcessed(t *testing.T) {
	store := newFakeStore()
	store.objects["photos/one.png"] = []byte("original")
	store.objects["photos/two.png"] = []byte("original")
	rs := &fakeResampler{}

	ev := s3Event("photos", "one.png")
	ev.Records = append(ev.Records, s3Event("photos", "two.png").Records...)
	newService(store, rs).Handle(context.Background(), ev)

	if len(store.gets) != 1 || store.gets[0] != "photos/one.png" {
		t.Errorf("gets = %v, want [photos/one.png]", store.gets)
	}
}

func TestHandle_SkipsGeneratedKeysInSameBucket(t *testing.T) {
	store := newFakeStore()
	store.objects["site/md/photo-md.png"] = []byte("variant")
	rs := &fakeResampler{}

	policy := naming.DefaultPolicy()
	policy.Buckets = naming.BucketSame
	svc := New(store, rs, Options{Naming: policy, SkipGenerated: true})

	out := svc.Handle(context.Background(), s3Event("site", "md/photo-md.png"))
	if out.Status != StatusSkipped {
		t.Errorf("Status = %q, want skipped", out.Status)
	}
	if len(store.gets) != 0 || len(store.puts) != 0 {
		t.Errorf("gets = %d, puts = %d, want 0/0", len(store.gets), len(store.puts))
	}

	// A different destination bucket cannot loop, so the key is processed.
	svc = New(store, rs, Options{Naming: naming.DefaultPolicy(), SkipGenerated: true})
	store.objects["site/md/photo-md.png"] = []byte("variant")
	if out := svc.Handle(context.Background(), s3Event("site", "md/photo-md.png")); out.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", out.Status)
	}
}

func TestHandle_NestedLayoutPublicExactType(t *testing.T) {
	store := newFakeStore()
	store.objects["cdn/products/raw/shoe.jpeg"] = []byte("original")
	rs := &fakeResampler{}

	policy := naming.DefaultPolicy()
	policy.Layout = naming.LayoutNested
	policy.Buckets = naming.BucketSame
	policy.PublicRead = true
	policy.ContentType = naming.ContentTypeExact
	sizes, err := catalog.Parse("thumb:100")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	svc := New(store, rs, Options{Sizes: sizes, Naming: policy, Tagging: "Origin=resizer"})

	out := svc.Handle(context.Background(), s3Event("cdn", "products/raw/shoe.jpeg"))

	if out.Status != StatusCompleted || len(store.puts) != 1 {
		t.Fatalf("Status = %q, puts = %d", out.Status, len(store.puts))
	}
	p := store.puts[0]
	if p.Bucket != "cdn" || p.Key != "products/compressed/thumb/shoe-thumb.png" {
		t.Errorf("dest = %s/%s", p.Bucket, p.Key)
	}
	if !p.Public || p.ContentType != "image/png" || p.Tagging != "Origin=resizer" {
		t.Errorf("Public = %v, ContentType = %q, Tagging = %q", p.Public, p.ContentType, p.Tagging)
	}
}

// --- stages ---

func TestResize_ConcurrencyLimitKeepsOrder(t *testing.T) {
	rs := &fakeResampler{}
	svc := New(newFakeStore(), rs, Options{Naming: naming.DefaultPolicy(), Concurrency: 1})

	variants, ok := svc.Resize(context.Background(), &Original{Data: []byte("x")})
	if !ok {
		t.Fatal("Resize ok = false")
	}
	for i, v := range variants {
		entry := svc.Sizes().At(i)
		if v.Label != entry.Label || v.Output.Width != entry.Dimension {
			t.Errorf("variants[%d] = %s/%d, want %s/%d", i, v.Label, v.Output.Width, entry.Label, entry.Dimension)
		}
	}
}

func TestResize_EmptyOutputIsFailure(t *testing.T) {
	svc := New(newFakeStore(), emptyResampler{}, Options{Naming: naming.DefaultPolicy()})
	variants, ok := svc.Resize(context.Background(), &Original{Data: []byte("x")})
	if ok {
		t.Error("Resize ok = true, want false")
	}
	for i, v := range variants {
		if v.OK() || v.Err == nil {
			t.Errorf("variants[%d] OK = %v, Err = %v", i, v.OK(), v.Err)
		}
	}
}

type emptyResampler struct{}

func (emptyResampler) Resize(context.Context, []byte, int) (resample.Output, error) {
	return resample.Output{}, nil
}

func TestUpload_LengthMismatchPanics(t *testing.T) {
	svc := newService(newFakeStore(), &fakeResampler{})
	defer func() {
		if recover() == nil {
			t.Error("Upload with 3 variants for 4 sizes did not panic")
		}
	}()
	svc.Upload(context.Background(), make([]Variant, 3), naming.Source{Filename: "photo"}, "photos")
}

func TestUpload_LabelMismatchPanics(t *testing.T) {
	svc := newService(newFakeStore(), &fakeResampler{})
	variants := make([]Variant, 4)
	variants[0].Label = "md"
	defer func() {
		if recover() == nil {
			t.Error("Upload with misordered variants did not panic")
		}
	}()
	svc.Upload(context.Background(), variants, naming.Source{Filename: "photo"}, "photos")
}

func TestNew_EmptyCatalogFallsBackToDefault(t *testing.T) {
	svc := New(newFakeStore(), &fakeResampler{}, Options{})
	if got := svc.Sizes().String(); got != catalog.Default().String() {
		t.Errorf("Sizes = %q, want default", got)
	}
}
