package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/apex/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore 是正式環境的 Datastore；變更通知來自 Snapshots listener
type Firestore struct {
	client         *firestore.Client
	resubscribeMin time.Duration
	resubscribeMax time.Duration
}

func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{
		client:         client,
		resubscribeMin: time.Second,
		resubscribeMax: time.Minute,
	}
}

func (f *Firestore) Fetch(ctx context.Context, c Collection) ([]Row, error) {
	docs, err := f.client.Collection(string(c)).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c, err)
	}
	out := make([]Row, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromSnapshot(d))
	}
	return out, nil
}

func (f *Firestore) Get(ctx context.Context, c Collection, id string) (Row, error) {
	snap, err := f.client.Collection(string(c)).Doc(id).Get(ctx)
	if err != nil {
		return nil, wrap(c, id, err)
	}
	return fromSnapshot(snap), nil
}

func (f *Firestore) Insert(ctx context.Context, c Collection, row Row) (string, error) {
	data := toFirestoreData(row)
	if id := row.ID(); id != "" {
		if _, err := f.client.Collection(string(c)).Doc(id).Create(ctx, data); err != nil {
			return "", wrap(c, id, err)
		}
		return id, nil
	}
	ref, _, err := f.client.Collection(string(c)).Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", c, err)
	}
	return ref.ID, nil
}

func (f *Firestore) Update(ctx context.Context, c Collection, id string, patch Row) error {
	ups := toUpdates(patch)
	if len(ups) == 0 {
		return nil
	}
	if _, err := f.client.Collection(string(c)).Doc(id).Update(ctx, ups); err != nil {
		return wrap(c, id, err)
	}
	return nil
}

func (f *Firestore) Delete(ctx context.Context, c Collection, id string) error {
	if _, err := f.client.Collection(string(c)).Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return wrap(c, id, err)
	}
	return nil
}

func (f *Firestore) Transact(ctx context.Context, c Collection, id string, fn func(cur Row) (Row, error)) error {
	ref := f.client.Collection(string(c)).Doc(id)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		patch, err := fn(fromSnapshot(snap))
		if err != nil {
			return err
		}
		ups := toUpdates(patch)
		if len(ups) == 0 {
			return nil
		}
		return tx.Update(ref, ups)
	})
	if err != nil {
		return wrap(c, id, err)
	}
	return nil
}

func (f *Firestore) Subscribe(ctx context.Context, c Collection, onChange func()) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	go f.watch(ctx, c, onChange)
	return cancel, nil
}

// listener 斷掉就退避後重新訂閱；重新訂閱的第一個 snapshot 也會觸發 onChange，補上中間漏掉的變動
func (f *Firestore) watch(ctx context.Context, c Collection, onChange func()) {
	delay := f.resubscribeMin
	for ctx.Err() == nil {
		it := f.client.Collection(string(c)).Snapshots(ctx)
		for {
			_, err := it.Next()
			if err != nil {
				it.Stop()
				if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					return
				}
				log.WithError(err).WithField("collection", c).Warn("snapshot listener broke, resubscribing")
				break
			}
			delay = f.resubscribeMin
			onChange()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > f.resubscribeMax {
			delay = f.resubscribeMax
		}
	}
}

func fromSnapshot(d *firestore.DocumentSnapshot) Row {
	r := Row(d.Data())
	if r == nil {
		r = Row{}
	}
	r["id"] = d.Ref.ID
	return r
}

func toFirestoreValue(v any) any {
	switch t := v.(type) {
	case serverTimestamp:
		return firestore.ServerTimestamp
	case increment:
		return firestore.Increment(t.by)
	case arrayUnion:
		return firestore.ArrayUnion(t.vals...)
	case arrayRemove:
		return firestore.ArrayRemove(t.vals...)
	}
	return v
}

// id 是文件 ID，不存成欄位
func toFirestoreData(row Row) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		if k == "id" {
			continue
		}
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toUpdates(patch Row) []firestore.Update {
	ups := make([]firestore.Update, 0, len(patch))
	for k, v := range patch {
		if k == "id" {
			continue
		}
		ups = append(ups, firestore.Update{Path: k, Value: toFirestoreValue(v)})
	}
	return ups
}

func wrap(c Collection, id string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	return fmt.Errorf("%s/%s: %w", c, id, err)
}
