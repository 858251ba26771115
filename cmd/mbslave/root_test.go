package main

import (
	"fmt"
	"testing"

	"github.com/edgeo-scada/mbslave"
)

func TestListenFlagDefault(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("listen")
	if flag == nil {
		t.Fatal("listen flag not registered")
	}

	want := fmt.Sprintf(":%d", mbslave.DefaultPort)
	if flag.DefValue != want {
		t.Errorf("listen default: expected %q, got %q", want, flag.DefValue)
	}
}
