package cloud

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisStore(client, "test:")
}

type planDoc struct {
	Name       string  `json:"name"`
	Commensals int     `json:"commensals"`
	UsedBy     *string `json:"usedBy"`
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestRedis(t)

	f, err := Encode(planDoc{Name: "Week", Commensals: 3})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, Doc(UserWeeklyPlans("u1"), "p1"), f))

	got, err := store.Get(ctx, "users/u1/weeklyPlans/p1")
	require.NoError(t, err)
	var doc planDoc
	require.NoError(t, got.Decode(&doc))
	assert.Equal(t, "Week", doc.Name)
	assert.Equal(t, 3, doc.Commensals)
	assert.True(t, got.IsNull("usedBy"))

	_, err = store.Get(ctx, "users/u1/weeklyPlans/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetMergeKeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestRedis(t)
	path := Doc(FamilyWeeklyPlans(7), "p1")

	require.NoError(t, store.Set(ctx, path, Fields{"name": []byte(`"Week"`), "commensals": []byte(`2`)}))
	require.NoError(t, store.Set(ctx, path, Fields{"commensals": []byte(`5`)}, Merge()))

	got, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `"Week"`, string(got["name"]))
	assert.JSONEq(t, `5`, string(got["commensals"]))

	// a plain set replaces the document
	require.NoError(t, store.Set(ctx, path, Fields{"commensals": []byte(`1`)}))
	got, err = store.Get(ctx, path)
	require.NoError(t, err)
	_, hasName := got["name"]
	assert.False(t, hasName)
}

func TestCreateRejectsExisting(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestRedis(t)
	path := Doc(FamilyInvites, "ABC234")

	require.NoError(t, store.Create(ctx, path, Fields{"familyId": []byte(`1`)}))
	err := store.Create(ctx, path, Fields{"familyId": []byte(`2`)})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestUpdateIsConditional(t *testing.T) {
	ctx := context.Background()
	_, store := setupTestRedis(t)
	path := Doc(FamilyInvites, "CODE22")
	f, err := Encode(planDoc{Name: "invite"})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, path, f))

	errUsed := errors.New("used")
	claim := func(uid string) error {
		return store.Update(ctx, path, func(cur Fields) (Fields, error) {
			if !cur.IsNull("usedBy") {
				return nil, errUsed
			}
			return Encode(map[string]string{"usedBy": uid})
		})
	}

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = claim("user")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, errUsed) || errors.Is(err, ErrConflict), "unexpected error %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)

	err = store.Update(ctx, Doc(FamilyInvites, "NOPE22"), func(Fields) (Fields, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	mr, store := setupTestRedis(t)
	coll := UserRecipes("u1")

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, store.Set(ctx, Doc(coll, id), Fields{"name": []byte(`"` + id + `"`)}))
	}
	require.NoError(t, store.Delete(ctx, Doc(coll, "c")))
	// a dangling id in the collection set is ignored
	_, err := mr.SAdd("test:coll:"+coll, "ghost")
	require.NoError(t, err)

	docs, err := store.List(ctx, coll)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
	_, hasID := docs[0].Fields[idField]
	assert.False(t, hasID)

	empty, err := store.List(ctx, UserRecipes("nobody"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPingFailsWhenDown(t *testing.T) {
	mr, store := setupTestRedis(t)
	require.NoError(t, store.Ping(context.Background()))
	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "families/42/members", FamilyMembers(42))
	assert.Equal(t, "families/42/weeklyPlans", FamilyWeeklyPlans(42))
	assert.Equal(t, "users/u/families", UserFamilies("u"))

	coll, id, err := Split("families/42/members/u1")
	require.NoError(t, err)
	assert.Equal(t, "families/42/members", coll)
	assert.Equal(t, "u1", id)

	_, _, err = Split("families")
	assert.Error(t, err)
}
