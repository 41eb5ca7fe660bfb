package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bensco/susu/internal/app"
	_ "github.com/bensco/susu/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	require.True(t, app.InTestMode())
	main()
}
