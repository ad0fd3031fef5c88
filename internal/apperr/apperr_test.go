package apperr

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

type stockErr struct{}

func (stockErr) Error() string { return "not enough stock" }
func (stockErr) Code() string  { return ECONFLICT }

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, EINTERNAL, Code(errors.New("boom")))
	assert.Equal(t, ENOTFOUND, Code(Errorf(ENOTFOUND, "cart.get", "Cart not found")))
	assert.Equal(t, ECONFLICT, Code(errors.Wrap(stockErr{}, "reserve")))

	// the outermost classification wins
	wrapped := Wrap(stockErr{}, EUNPROCESSABLE, "checkout", "Checkout failed")
	assert.Equal(t, EUNPROCESSABLE, Code(errors.Wrap(wrapped, "handler")))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Cart not found", Message(errors.Wrap(Errorf(ENOTFOUND, "cart.get", "Cart not found"), "load")))
	assert.Equal(t, "not enough stock", Message(stockErr{}))
	assert.Contains(t, Message(errors.New("dynamo exploded")), "internal error")
}

func TestErrorString(t *testing.T) {
	err := Wrap(errors.New("cause"), EINTERNAL, "orders.save", "Save failed")
	assert.Equal(t, "orders.save: Save failed: cause", err.Error())
	assert.Nil(t, Wrap(nil, EINTERNAL, "x", "y"))
}
