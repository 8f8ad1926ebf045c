package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
)

func listing(items ...minio.ObjectInfo) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(items))
	for _, item := range items {
		ch <- item
	}
	close(ch)
	return ch
}

func TestFilterListing(t *testing.T) {
	listFailed := errors.New("listing interrupted")
	tests := []struct {
		name    string
		items   []minio.ObjectInfo
		want    []string
		wantErr error
	}{
		{
			name:  "forwards every object",
			items: []minio.ObjectInfo{{Key: "stories/a/1_x.jpg"}, {Key: "stories/a/2_y.jpg"}},
			want:  []string{"stories/a/1_x.jpg", "stories/a/2_y.jpg"},
		},
		{
			name:    "stops at listing error",
			items:   []minio.ObjectInfo{{Key: "stories/a/1_x.jpg"}, {Err: listFailed}, {Key: "stories/a/2_y.jpg"}},
			want:    []string{"stories/a/1_x.jpg"},
			wantErr: listFailed,
		},
		{name: "empty listing"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, errc := filterListing(context.Background(), listing(tc.items...))
			var got []string
			for obj := range out {
				got = append(got, obj.Key)
			}
			if err := <-errc; !errors.Is(err, tc.wantErr) {
				t.Fatalf("listing error = %v, want %v", err, tc.wantErr)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("forwarded %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("forwarded %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestFilterListingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	listed := make(chan minio.ObjectInfo, 1)
	listed <- minio.ObjectInfo{Key: "stories/a/1_x.jpg"}

	out, errc := filterListing(ctx, listed)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("listing error = %v, want context.Canceled", err)
	}
	for range out {
	}
}
