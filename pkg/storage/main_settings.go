package storage

import (
	"github.com/eirikba/ebakup/pkg/blockfile"
	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/config"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
)

// MagicMain is the settings-block magic line for db/main.
const MagicMain = "ebakup database v1"

// mainSettings is the parsed content of db/main (spec §6): it is a
// settings-only container, with no data blocks of its own.
type mainSettings struct {
	BlockSize int
	Checksum  checksum.Algorithm
}

func writeMainSettings(path string, cfg config.Config) error {
	s := blockfile.Settings{Magic: MagicMain, BlockSize: cfg.BlockSize, BlockSum: cfg.ChecksumAlgo}
	s.Set("checksum", string(cfg.ChecksumAlgo))
	f, err := blockfile.Create(path, s)
	if err != nil {
		return err
	}
	return f.Close()
}

func readMainSettings(path string) (mainSettings, error) {
	f, settings, err := blockfile.OpenReadOnly(path)
	if err != nil {
		return mainSettings{}, err
	}
	defer f.Close()
	if settings.Magic != MagicMain {
		return mainSettings{}, ebakuperr.InvalidFormat(path, "unrecognized magic: "+settings.Magic)
	}
	algoName, _ := settings.Get("checksum")
	for _, kv := range settings.Extra {
		if kv.Key != "checksum" {
			return mainSettings{}, ebakuperr.InvalidFormat(path, "unknown setting: "+kv.Key)
		}
	}
	algo := settings.BlockSum
	if algoName != "" {
		algo = checksum.Algorithm(algoName)
	}
	if !checksum.Valid(string(algo)) {
		return mainSettings{}, ebakuperr.InvalidFormat(path, "unknown checksum algorithm: "+string(algo))
	}
	return mainSettings{BlockSize: settings.BlockSize, Checksum: algo}, nil
}
