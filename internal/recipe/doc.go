// Package recipe describes how an application image is assembled.
//
// A [Recipe] names a base image, a working directory and the permissions
// applied to it, a dependency manifest with the commands that upgrade the
// packaging tool and install the manifest, the source tree copied on top,
// and the entrypoint the image runs by default. [Default] returns the
// reference recipe: a python bot image built from requirements.txt and
// launched with "bash start.sh".
//
// Recipes are written in YAML. Omitted keys keep their default values, so
// an empty file describes the reference image. A Dockerfile written in the
// same shape can be imported with [ParseDockerfile], and any recipe can be
// rendered back as a Dockerfile with [Recipe.Dockerfile].
//
// Example recipe file:
//
//	base: mysterysd/wzmlx:latest
//	workdir:
//	  path: /usr/src/app
//	  mode: "0777"
//	manifest: requirements.txt
//	upgrade: pip3 install -U pip
//	install: pip3 install --no-cache-dir -r requirements.txt
//	source: .
//	ignore: [".git", "**/__pycache__"]
//	entrypoint: [bash, start.sh]
package recipe
