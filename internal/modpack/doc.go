// Package modpack reads modpack manifests and builds the install workflow
// run by the engine.
//
// The workflow has three phases under one installModpack node:
//
//  1. Download URLs for Curseforge files are looked up through the adaptive
//     batch resolver, then every file is downloaded into <root>/mods as a
//     concurrent "download" child. All downloads run to completion; failures
//     are reported together as one *InstallError.
//  2. An "unpack" child extracts the overrides directory of the archive
//     into the instance root.
//  3. When the manifest names a file API and it is allowed, addon files are
//     downloaded from it and validated against their sha1 hashes.
//
// Collaborators are supplied through [Params] as small interfaces; the
// fetch package provides the production implementations.
package modpack
