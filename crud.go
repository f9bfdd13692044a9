package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pteich/elastic-doc-client/client"
	"github.com/pteich/elastic-doc-client/document"
	"github.com/pteich/elastic-doc-client/flags"
	"github.com/pteich/elastic-doc-client/logger"
)

type tweet struct {
	UserName string    `json:"userName"`
	Msg      string    `json:"msg"`
	Posted   time.Time `json:"posted"`
	Likes    int       `json:"likes"`
}

// sampleDocs returns the same tweet authored four ways.
func sampleDocs() (map[string]document.Document, error) {
	posted := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	built, err := document.NewBuilder().
		Field("userName", "Zhang San").
		Field("msg", "hello").
		Field("posted", posted).
		Field("likes", 3).
		Build()
	if err != nil {
		return nil, err
	}
	fromMap, err := document.FromMap(map[string]any{
		"userName": "Zhang San",
		"msg":      "hello",
		"posted":   posted,
		"likes":    3,
	})
	if err != nil {
		return nil, err
	}
	fromJSON, err := document.FromJSON(`{"userName":"Zhang San","msg":"hello","posted":"2024-05-01T12:00:00Z","likes":3}`)
	if err != nil {
		return nil, err
	}
	fromStruct, err := document.FromStruct(tweet{UserName: "Zhang San", Msg: "hello", Posted: posted, Likes: 3})
	if err != nil {
		return nil, err
	}

	return map[string]document.Document{
		"builder": built,
		"map":     fromMap,
		"json":    fromJSON,
		"struct":  fromStruct,
	}, nil
}

// runCrud indexes the sample tweet once per authoring style, then reads,
// updates and deletes the one stored under conf.ID, printing every document
// it reads to out. The map and json styles are indexed without an id so the
// cluster generates one, and those documents are left in place.
func runCrud(ctx context.Context, c *client.Client, conf flags.CrudFlags, out io.Writer) error {
	log := logger.FromContext(ctx)

	docs, err := sampleDocs()
	if err != nil {
		return err
	}

	var first document.Document
	for _, style := range []string{"builder", "map", "json", "struct"} {
		doc := docs[style]
		if first != nil && !first.Equal(doc) {
			return fmt.Errorf("%s document differs from builder document", style)
		}
		first = doc

		id := conf.ID
		if style == "map" || style == "json" {
			id = ""
		}
		res, err := c.Index(ctx, conf.Index, conf.Type, id, doc)
		if err != nil {
			return err
		}
		log.Info("indexed",
			zap.String("style", style),
			zap.String("id", res.ID),
			zap.Bool("generated_id", id == ""),
			zap.String("status", string(res.Status)),
			zap.Int64("version", res.Version),
		)
	}

	if err := printDoc(ctx, c, conf, out); err != nil {
		return err
	}

	partial, err := document.NewBuilder().Field("userName", "Wang Wu").Build()
	if err != nil {
		return err
	}
	res, err := c.Update(ctx, conf.Index, conf.Type, conf.ID, partial)
	if err != nil {
		return err
	}
	log.Info("updated", zap.String("id", res.ID), zap.String("status", string(res.Status)))

	if err := printDoc(ctx, c, conf, out); err != nil {
		return err
	}

	res, err = c.Delete(ctx, conf.Index, conf.Type, conf.ID)
	if err != nil {
		return err
	}
	log.Info("deleted", zap.String("id", res.ID), zap.String("status", string(res.Status)))
	return nil
}

func printDoc(ctx context.Context, c *client.Client, conf flags.CrudFlags, out io.Writer) error {
	doc, err := c.Get(ctx, conf.Index, conf.Type, conf.ID)
	if err != nil {
		return err
	}
	data, err := document.Encode(doc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}
