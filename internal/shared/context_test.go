package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignedInFromContext(t *testing.T) {
	assert.Nil(t, SignedInFromContext(context.Background()))

	anon := &Session{ID: "a", values: map[string]string{}}
	assert.Nil(t, SignedInFromContext(ContextWithSession(context.Background(), anon)))

	anon.SetUser("not-a-number")
	assert.Nil(t, SignedInFromContext(ContextWithSession(context.Background(), anon)))

	actor := &Session{ID: "b", values: map[string]string{}}
	actor.SetUser("7")
	actor.SetCompany(2)
	got := SignedInFromContext(ContextWithSession(context.Background(), actor))
	if assert.NotNil(t, got) {
		assert.Equal(t, int64(7), got.ActorID())
		assert.Equal(t, int64(2), got.CompanyID())
	}
}
