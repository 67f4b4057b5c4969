// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fixture

import (
	"archive/zip"
	"bytes"
	"io"
	"path"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerneltest/pkg/core/graph"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/gomlx/kerneltest/pkg/core/tensors/numpy"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the manifest inside a fixture archive.
const ManifestFile = "manifest.yaml"

// Manifest describes the contents of a fixture archive.
type Manifest struct {
	Description string           `yaml:"description"`
	ID          string           `yaml:"id"`
	Graph       string           `yaml:"graph"`
	Backends    []Backend        `yaml:"backends"`
	DType       string           `yaml:"dtype"`
	Tolerance   Tolerance        `yaml:"tolerance"`
	Inputs      []ArchivedTensor `yaml:"inputs"`
	Expected    []ArchivedTensor `yaml:"expected"`
}

// ArchivedTensor is the manifest entry of one tensor stored as a .npy file in the archive.
type ArchivedTensor struct {
	Name       string `yaml:"name"`
	Dimensions []int  `yaml:"dimensions,flow"`
	Order      string `yaml:"order"`
	File       string `yaml:"file"`
}

// Archive is the decoded contents of a fixture archive, see ReadArchive.
type Archive struct {
	Manifest Manifest

	// Inputs and Expected tensors, keyed by variable name.
	Inputs, Expected map[string]*tensors.Tensor
}

// WriteArchive writes the fixture as a zip archive to w, with values stored as float32.
// See WriteArchiveAs.
func (f *Fixture) WriteArchive(w io.Writer) error {
	return f.WriteArchiveAs(w, dtypes.Float32)
}

// WriteArchiveAs writes the fixture as a zip archive to w: a manifest.yaml file with
// the description, ID, backends, tolerance and the variables, and one .npy file per input and
// expected tensor, with values encoded with dtype (dtypes.Float32 or dtypes.Float16).
//
// The archive is assembled in memory and only written to w once complete, so on error nothing
// is written, except if w itself fails. Where the archive is stored is up to the caller.
func (f *Fixture) WriteArchiveAs(w io.Writer, dtype dtypes.DType) error {
	if dtype != dtypes.Float32 && dtype != dtypes.Float16 {
		return errors.Errorf("fixture %q: archive dtype %s not supported", f.description, dtype)
	}
	manifest := Manifest{
		Description: f.description,
		ID:          f.id.String(),
		Graph:       f.graph.Name(),
		Backends:    f.Backends(),
		DType:       dtype.String(),
		Tolerance:   f.tolerance,
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	writeTensors := func(dir string, ids []graph.VariableID, values Tensors) ([]ArchivedTensor, error) {
		var entries []ArchivedTensor
		for _, id := range ids {
			v := f.graph.Variable(id)
			entry := ArchivedTensor{
				Name:       v.Name(),
				Dimensions: v.Shape().Dimensions,
				Order:      v.Order().String(),
				File:       path.Join(dir, v.Name()+".npy"),
			}
			fileWriter, err := zw.Create(entry.File)
			if err != nil {
				return nil, errors.Wrapf(err, "fixture %q: creating %q in archive", f.description, entry.File)
			}
			if err = numpy.ToNpyWriter(values[id], dtype, fileWriter); err != nil {
				return nil, errors.WithMessagef(err, "fixture %q: writing %q", f.description, entry.File)
			}
			entries = append(entries, entry)
		}
		return entries, nil
	}
	var err error
	if manifest.Inputs, err = writeTensors("inputs", f.graph.Inputs(), f.inputs); err != nil {
		return err
	}
	if manifest.Expected, err = writeTensors("expected", f.graph.Outputs(), f.expected); err != nil {
		return err
	}
	manifestYAML, err := yaml.Marshal(&manifest)
	if err != nil {
		return errors.Wrapf(err, "fixture %q: encoding manifest", f.description)
	}
	mw, err := zw.Create(ManifestFile)
	if err != nil {
		return errors.Wrapf(err, "fixture %q: creating manifest", f.description)
	}
	if _, err = mw.Write(manifestYAML); err != nil {
		return errors.Wrapf(err, "fixture %q: writing manifest", f.description)
	}
	if err = zw.Close(); err != nil {
		return errors.Wrapf(err, "fixture %q: closing archive", f.description)
	}
	if _, err = buf.WriteTo(w); err != nil {
		return errors.Wrapf(err, "fixture %q: writing archive", f.description)
	}
	return nil
}

// ReadArchive decodes an archive written by Fixture.WriteArchive. Values are always returned as float32.
func ReadArchive(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "reading fixture archive")
	}
	archive := &Archive{Inputs: make(map[string]*tensors.Tensor), Expected: make(map[string]*tensors.Tensor)}
	manifestReader, err := zr.Open(ManifestFile)
	if err != nil {
		return nil, errors.Wrapf(err, "fixture archive has no %s", ManifestFile)
	}
	err = yaml.NewDecoder(manifestReader).Decode(&archive.Manifest)
	_ = manifestReader.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "decoding fixture archive %s", ManifestFile)
	}
	readTensors := func(entries []ArchivedTensor, into map[string]*tensors.Tensor) error {
		for _, entry := range entries {
			fileReader, err := zr.Open(entry.File)
			if err != nil {
				return errors.Wrapf(err, "fixture archive: opening %q", entry.File)
			}
			t, err := numpy.FromNpyReader(fileReader, shapes.ParseOrder(entry.Order))
			_ = fileReader.Close()
			if err != nil {
				return errors.WithMessagef(err, "fixture archive: reading %q", entry.File)
			}
			if err = t.Shape().CheckDims(entry.Name, entry.Dimensions...); err != nil {
				return err
			}
			into[entry.Name] = t
		}
		return nil
	}
	if err = readTensors(archive.Manifest.Inputs, archive.Inputs); err != nil {
		return nil, err
	}
	if err = readTensors(archive.Manifest.Expected, archive.Expected); err != nil {
		return nil, err
	}
	return archive, nil
}
