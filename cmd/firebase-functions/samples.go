// Copyright 2022 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	functions "github.com/firebase/firebase-functions-go"
	"github.com/firebase/firebase-functions-go/config"
	"github.com/firebase/firebase-functions-go/https"
	"github.com/firebase/firebase-functions-go/logger"
	"github.com/firebase/firebase-functions-go/server"
	"go.uber.org/zap"
)

const objectFinalized = "google.cloud.storage.object.v1.finalized"

type messageStore interface {
	AddMessage(ctx context.Context, text, author string) (string, error)
}

type objectInspector interface {
	ContentType(ctx context.Context, bucket, name string) (string, error)
}

// storageObject is the data of a Cloud Storage object event.
type storageObject struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
}

type samples struct {
	messages     messageStore
	objects      objectInspector
	uploadBucket string
	now          func() time.Time
}

func productionSamples(cfg *config.Config) *samples {
	s := &samples{
		messages: firestoreMessages{},
		objects:  storageObjects{},
		now:      time.Now,
	}
	if cfg.ProjectID != "" {
		s.uploadBucket = cfg.ProjectID + ".appspot.com"
	}
	return s
}

func registerFunctions(s *samples) (*server.Registry, error) {
	reg := server.NewRegistry()

	var uploadFilters map[string]string
	if s.uploadBucket != "" {
		uploadFilters = map[string]string{"bucket": s.uploadBucket}
	}
	fns := map[string]server.Function{
		"addMessage": https.OnCall(&https.CallableOptions{RequireAuth: true}, https.OneArgHandler(s.addMessage)),
		"date": https.OnRequest(&https.HTTPSOptions{
			GlobalOptions: functions.GlobalOptions{Invoker: functions.Invoker{"public"}},
		}, s.date),
		"onUpload": functions.OnEvent[storageObject](&functions.EventOptions{
			EventType:    objectFinalized,
			EventFilters: uploadFilters,
		}, nil, s.onUpload),
	}
	for name, fn := range fns {
		if err := reg.Register(name, fn); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (s *samples) addMessage(ctx context.Context, req *https.CallableRequest) (interface{}, error) {
	data, _ := req.Data.(map[string]interface{})
	text, _ := data["text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, https.NewError(https.InvalidArgument, `The function must be called with a non-empty "text" argument.`)
	}
	id, err := s.messages.AddMessage(ctx, text, req.Auth.UID)
	if err != nil {
		return nil, fmt.Errorf("adding message: %w", err)
	}
	return map[string]interface{}{"id": id, "text": text}, nil
}

var dateFormats = map[string]string{
	"":        time.RFC3339,
	"rfc3339": time.RFC3339,
	"date":    time.DateOnly,
	"kitchen": time.Kitchen,
}

func (s *samples) date(w http.ResponseWriter, r *http.Request) {
	layout, ok := dateFormats[r.URL.Query().Get("format")]
	if !ok {
		http.Error(w, "unknown format", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, s.now().UTC().Format(layout))
}

func (s *samples) onUpload(ctx context.Context, e *functions.CloudEvent[storageObject]) error {
	obj := e.Data
	if obj.ContentType == "" {
		ct, err := s.objects.ContentType(ctx, obj.Bucket, obj.Name)
		if err != nil {
			return fmt.Errorf("inspecting %s/%s: %w", obj.Bucket, obj.Name, err)
		}
		obj.ContentType = ct
	}

	log := logger.Default().With(zap.String("bucket", obj.Bucket), zap.String("object", obj.Name))
	if !strings.HasPrefix(obj.ContentType, "image/") {
		log.Debug("Ignoring upload that is not an image", zap.String("contentType", obj.ContentType))
		return nil
	}
	log.Info("Image uploaded", zap.String("contentType", obj.ContentType), zap.String("size", obj.Size))
	return nil
}

type firestoreMessages struct{}

func (firestoreMessages) AddMessage(ctx context.Context, text, author string) (string, error) {
	app, err := functions.DefaultApp(ctx)
	if err != nil {
		return "", err
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return "", err
	}
	ref, _, err := client.Collection("messages").Add(ctx, map[string]interface{}{
		"text":    text,
		"author":  author,
		"created": firestore.ServerTimestamp,
	})
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

type storageObjects struct{}

func (storageObjects) ContentType(ctx context.Context, bucket, name string) (string, error) {
	app, err := functions.DefaultApp(ctx)
	if err != nil {
		return "", err
	}
	client, err := app.Storage(ctx)
	if err != nil {
		return "", err
	}
	b, err := client.Bucket(bucket)
	if err != nil {
		return "", err
	}
	attrs, err := b.Object(name).Attrs(ctx)
	if err != nil {
		return "", err
	}
	return attrs.ContentType, nil
}
