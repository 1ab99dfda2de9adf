// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package videopreview

import (
	"fmt"
	"testing"
)

func TestImageFormat(t *testing.T) {
	for _, tc := range []struct {
		format       ImageFormat
		wantString   string
		wantMimeType string
	}{
		{
			format:       ImageFormat(-1),
			wantString:   "-1",
			wantMimeType: "application/octet-stream",
		},
		{
			wantString:   "PNG",
			wantMimeType: "image/png",
		},
		{
			format:       DefaultFormat,
			wantString:   "PNG",
			wantMimeType: "image/png",
		},
		{
			format:       PNG,
			wantString:   "PNG",
			wantMimeType: "image/png",
		},
		{
			format:       JPEG,
			wantString:   "JPEG",
			wantMimeType: "image/jpeg",
		},
	} {
		t.Run(fmt.Sprint(tc), func(t *testing.T) {
			if got := tc.format.String(); got != tc.wantString {
				t.Errorf("String() returned %q, want %q", got, tc.wantString)
			}

			if got := tc.format.mimeType(); got != tc.wantMimeType {
				t.Errorf("mimeType() returned %q, want %q", got, tc.wantMimeType)
			}
		})
	}
}

func TestImageFormatFromString(t *testing.T) {
	for _, tc := range []struct {
		value   string
		want    ImageFormat
		wantErr bool
	}{
		{value: "png", want: PNG},
		{value: "jpg", want: JPEG},
		{value: "jpeg", want: JPEG},
		{value: "bmp", wantErr: true},
	} {
		got, err := ImageFormatFromString(tc.value)
		if (err != nil) != tc.wantErr {
			t.Errorf("ImageFormatFromString(%q) error = %v, wantErr %v", tc.value, err, tc.wantErr)
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ImageFormatFromString(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}
